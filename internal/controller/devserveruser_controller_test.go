/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

var _ = Describe("DevServerUser Controller", func() {
	var (
		reconciler *DevServerUserReconciler
		username   string
		user       *devserversv1.DevServerUser
	)

	// Usernames are globally unique per spec run: the provisioned namespace
	// lingers in Terminating in envtest and cannot be reused.
	var userSeq int

	BeforeEach(func() {
		userSeq++
		username = fmt.Sprintf("user%d-%d", GinkgoRandomSeed()%100000, userSeq)

		reconciler = &DevServerUserReconciler{
			Client:   k8sClient,
			Scheme:   k8sClient.Scheme(),
			Recorder: record.NewFakeRecorder(100),
		}

		user = &devserversv1.DevServerUser{
			ObjectMeta: metav1.ObjectMeta{Name: username},
			Spec:       devserversv1.DevServerUserSpec{Username: username},
		}
		Expect(k8sClient.Create(ctx, user)).To(Succeed())
		DeferCleanup(func() {
			Expect(client.IgnoreNotFound(k8sClient.Delete(ctx, user))).To(Succeed())
		})
	})

	reconcileUser := func() {
		_, err := reconciler.Reconcile(ctx, ctrl.Request{
			NamespacedName: types.NamespacedName{Name: username},
		})
		Expect(err).NotTo(HaveOccurred())
	}

	It("provisions the namespace, service account, RBAC and quota", func() {
		reconcileUser()

		nsName := "dev-" + username
		namespace := &corev1.Namespace{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: nsName}, namespace)).To(Succeed())
		Expect(namespace.Labels).To(HaveKeyWithValue("devserver.io/user", username))
		Expect(namespace.Labels).To(HaveKeyWithValue("devserver.io/managed", "true"))

		sa := &corev1.ServiceAccount{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: username + "-sa", Namespace: nsName}, sa)).To(Succeed())

		role := &rbacv1.Role{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user", Namespace: nsName}, role)).To(Succeed())
		Expect(role.Rules).To(HaveLen(2))
		Expect(role.Rules[0].APIGroups).To(ConsistOf("devserver.io"))
		Expect(role.Rules[0].Resources).To(ConsistOf("devservers"))

		binding := &rbacv1.RoleBinding{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user", Namespace: nsName}, binding)).To(Succeed())
		Expect(binding.Subjects).To(HaveLen(1))
		Expect(binding.Subjects[0].Name).To(Equal(username + "-sa"))

		quota := &corev1.ResourceQuota{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user-quota", Namespace: nsName}, quota)).To(Succeed())
		cpu := quota.Spec.Hard[corev1.ResourceRequestsCPU]
		Expect(cpu.Equal(resource.MustParse("16"))).To(BeTrue())
		pods := quota.Spec.Hard[corev1.ResourcePods]
		Expect(pods.Equal(resource.MustParse("10"))).To(BeTrue())
	})

	It("records the namespace and Ready condition in status", func() {
		reconcileUser()

		stored := &devserversv1.DevServerUser{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: username}, stored)).To(Succeed())
		Expect(stored.Status.Namespace).To(Equal("dev-" + username))

		cond := meta.FindStatusCondition(stored.Status.Conditions, devserversv1.ConditionReady)
		Expect(cond).NotTo(BeNil())
		Expect(cond.Status).To(Equal(metav1.ConditionTrue))
		Expect(cond.Reason).To(Equal(devserversv1.ReasonUserProvisioned))
	})

	It("applies quota overrides on top of the defaults", func() {
		stored := &devserversv1.DevServerUser{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: username}, stored)).To(Succeed())
		stored.Spec.Quota = corev1.ResourceList{
			corev1.ResourceRequestsCPU: resource.MustParse("64"),
		}
		Expect(k8sClient.Update(ctx, stored)).To(Succeed())

		reconcileUser()

		quota := &corev1.ResourceQuota{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user-quota", Namespace: "dev-" + username}, quota)).To(Succeed())
		cpu := quota.Spec.Hard[corev1.ResourceRequestsCPU]
		Expect(cpu.Equal(resource.MustParse("64"))).To(BeTrue())
		mem := quota.Spec.Hard[corev1.ResourceRequestsMemory]
		Expect(mem.Equal(resource.MustParse("64Gi"))).To(BeTrue())
	})

	It("owns every provisioned child", func() {
		reconcileUser()

		stored := &devserversv1.DevServerUser{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: username}, stored)).To(Succeed())
		nsName := "dev-" + username

		namespace := &corev1.Namespace{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: nsName}, namespace)).To(Succeed())
		Expect(metav1.IsControlledBy(namespace, stored)).To(BeTrue())

		sa := &corev1.ServiceAccount{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: username + "-sa", Namespace: nsName}, sa)).To(Succeed())
		Expect(metav1.IsControlledBy(sa, stored)).To(BeTrue())

		role := &rbacv1.Role{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user", Namespace: nsName}, role)).To(Succeed())
		Expect(metav1.IsControlledBy(role, stored)).To(BeTrue())

		binding := &rbacv1.RoleBinding{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user", Namespace: nsName}, binding)).To(Succeed())
		Expect(metav1.IsControlledBy(binding, stored)).To(BeTrue())

		quota := &corev1.ResourceQuota{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-user-quota", Namespace: nsName}, quota)).To(Succeed())
		Expect(metav1.IsControlledBy(quota, stored)).To(BeTrue())
	})
})
