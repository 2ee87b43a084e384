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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	clocktesting "k8s.io/utils/clock/testing"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

var _ = Describe("DevServer Controller", func() {
	var (
		reconciler *DevServerReconciler
		fakeClock  *clocktesting.FakePassiveClock
		namespace  string
		flavorName string
	)

	BeforeEach(func() {
		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{GenerateName: "devserver-test-"}}
		Expect(k8sClient.Create(ctx, ns)).To(Succeed())
		namespace = ns.Name

		flavor := &devserversv1.DevServerFlavor{
			ObjectMeta: metav1.ObjectMeta{GenerateName: "flavor-"},
			Spec: devserversv1.DevServerFlavorSpec{
				Resources: devserversv1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("1"),
						corev1.ResourceMemory: resource.MustParse("2Gi"),
					},
				},
			},
		}
		Expect(k8sClient.Create(ctx, flavor)).To(Succeed())
		flavorName = flavor.Name
		DeferCleanup(func() {
			Expect(client.IgnoreNotFound(k8sClient.Delete(ctx, flavor))).To(Succeed())
		})

		fakeClock = clocktesting.NewFakePassiveClock(time.Now())
		reconciler = &DevServerReconciler{
			Client:         k8sClient,
			Scheme:         k8sClient.Scheme(),
			Recorder:       record.NewFakeRecorder(100),
			Clock:          fakeClock,
			DefaultRequeue: 30 * time.Minute,
		}
	})

	newDevServer := func(name string) *devserversv1.DevServer {
		return &devserversv1.DevServer{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			Spec: devserversv1.DevServerSpec{
				Owner:              "alice@example.com",
				Flavor:             flavorName,
				Image:              "ubuntu:22.04",
				Mode:               devserversv1.ModeStandalone,
				PersistentHomeSize: resource.MustParse("100Gi"),
				EnableSSH:          true,
			},
		}
	}

	reconcile := func(name string) (ctrl.Result, error) {
		return reconciler.Reconcile(ctx, ctrl.Request{
			NamespacedName: types.NamespacedName{Name: name, Namespace: namespace},
		})
	}

	get := func(name string) *devserversv1.DevServer {
		ds := &devserversv1.DevServer{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, ds)).To(Succeed())
		return ds
	}

	Context("finalizer handling", func() {
		It("adds the finalizer before doing anything else", func() {
			Expect(k8sClient.Create(ctx, newDevServer("fin"))).To(Succeed())

			_, err := reconcile("fin")
			Expect(err).NotTo(HaveOccurred())

			Expect(controllerutil.ContainsFinalizer(get("fin"), DevServerFinalizer)).To(BeTrue())
		})

		It("releases the finalizer on deletion", func() {
			Expect(k8sClient.Create(ctx, newDevServer("gone"))).To(Succeed())
			_, err := reconcile("gone")
			Expect(err).NotTo(HaveOccurred())

			Expect(k8sClient.Delete(ctx, get("gone"))).To(Succeed())
			_, err = reconcile("gone")
			Expect(err).NotTo(HaveOccurred())

			ds := &devserversv1.DevServer{}
			getErr := k8sClient.Get(ctx, types.NamespacedName{Name: "gone", Namespace: namespace}, ds)
			Expect(getErr).To(HaveOccurred())
		})
	})

	Context("standalone provisioning", func() {
		It("creates the owned children and projects status", func() {
			Expect(k8sClient.Create(ctx, newDevServer("web"))).To(Succeed())

			_, err := reconcile("web")
			Expect(err).NotTo(HaveOccurred())
			result, err := reconcile("web")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(30 * time.Minute))

			pvc := &corev1.PersistentVolumeClaim{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "web-home", Namespace: namespace}, pvc)).To(Succeed())
			qty := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
			Expect(qty.Equal(resource.MustParse("100Gi"))).To(BeTrue())
			Expect(metav1.IsControlledBy(pvc, get("web"))).To(BeTrue())

			deployment := &appsv1.Deployment{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "web", Namespace: namespace}, deployment)).To(Succeed())
			Expect(*deployment.Spec.Replicas).To(Equal(int32(1)))
			Expect(deployment.Spec.Template.Spec.Containers[0].Image).To(Equal("ubuntu:22.04"))

			service := &corev1.Service{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "web-ssh", Namespace: namespace}, service)).To(Succeed())
			Expect(service.Spec.Ports[0].Port).To(Equal(int32(22)))

			secret := &corev1.Secret{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "web-hostkeys", Namespace: namespace}, secret)).To(Succeed())
			Expect(secret.Data).To(HaveLen(6))

			ds := get("web")
			Expect(ds.Status.Phase).To(Equal(devserversv1.PhasePending))
			Expect(ds.Status.Ready).To(BeFalse())
			Expect(ds.Status.SSHEndpoint).To(Equal("web-ssh." + namespace + ".svc:22"))
			Expect(ds.Status.ServiceName).To(Equal("web-ssh"))
		})

		It("reports Running once the workload is ready", func() {
			Expect(k8sClient.Create(ctx, newDevServer("ready"))).To(Succeed())
			_, err := reconcile("ready")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("ready")
			Expect(err).NotTo(HaveOccurred())

			pod := &corev1.Pod{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "ready-0",
					Namespace: namespace,
					Labels:    map[string]string{"app": "devserver", "devserver": "ready"},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "devserver", Image: "ubuntu:22.04"}},
				},
			}
			Expect(k8sClient.Create(ctx, pod)).To(Succeed())

			deployment := &appsv1.Deployment{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ready", Namespace: namespace}, deployment)).To(Succeed())
			deployment.Status.Replicas = 1
			deployment.Status.ReadyReplicas = 1
			Expect(k8sClient.Status().Update(ctx, deployment)).To(Succeed())

			_, err = reconcile("ready")
			Expect(err).NotTo(HaveOccurred())

			ds := get("ready")
			Expect(ds.Status.Phase).To(Equal(devserversv1.PhaseRunning))
			Expect(ds.Status.Ready).To(BeTrue())
			Expect(ds.Status.StartTime).NotTo(BeNil())
			Expect(ds.Status.PodNames).To(ConsistOf("ready-0"))

			cond := meta.FindStatusCondition(ds.Status.Conditions, devserversv1.ConditionReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Status).To(Equal(metav1.ConditionTrue))
			Expect(cond.Reason).To(Equal(devserversv1.ReasonWorkloadReady))
		})

		It("recreates the SSH service after an out-of-band delete", func() {
			Expect(k8sClient.Create(ctx, newDevServer("svc"))).To(Succeed())
			_, err := reconcile("svc")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("svc")
			Expect(err).NotTo(HaveOccurred())

			service := &corev1.Service{}
			key := types.NamespacedName{Name: "svc-ssh", Namespace: namespace}
			Expect(k8sClient.Get(ctx, key, service)).To(Succeed())
			Expect(k8sClient.Delete(ctx, service)).To(Succeed())

			_, err = reconcile("svc")
			Expect(err).NotTo(HaveOccurred())
			Expect(k8sClient.Get(ctx, key, service)).To(Succeed())
		})

		It("never regenerates host keys", func() {
			Expect(k8sClient.Create(ctx, newDevServer("keys"))).To(Succeed())
			_, err := reconcile("keys")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("keys")
			Expect(err).NotTo(HaveOccurred())

			secret := &corev1.Secret{}
			key := types.NamespacedName{Name: "keys-hostkeys", Namespace: namespace}
			Expect(k8sClient.Get(ctx, key, secret)).To(Succeed())
			original := secret.Data["ssh_host_ed25519_key"]

			_, err = reconcile("keys")
			Expect(err).NotTo(HaveOccurred())
			Expect(k8sClient.Get(ctx, key, secret)).To(Succeed())
			Expect(secret.Data["ssh_host_ed25519_key"]).To(Equal(original))
		})
	})

	Context("time to live", func() {
		It("materializes expirationTime exactly once", func() {
			ds := newDevServer("ttl")
			ds.Spec.Lifecycle = &devserversv1.LifecycleConfig{TimeToLive: "2h30m"}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("ttl")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("ttl")
			Expect(err).NotTo(HaveOccurred())

			stored := get("ttl")
			Expect(stored.Spec.Lifecycle.ExpirationTime).NotTo(BeNil())
			want := stored.CreationTimestamp.Add(2*time.Hour + 30*time.Minute)
			Expect(stored.Spec.Lifecycle.ExpirationTime.Time).To(BeTemporally("==", want))
		})

		It("fails validation for a malformed duration and stops retrying", func() {
			ds := newDevServer("badttl")
			ds.Spec.Lifecycle = &devserversv1.LifecycleConfig{TimeToLive: "1.5h"}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("badttl")
			Expect(err).NotTo(HaveOccurred())
			result, err := reconcile("badttl")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(BeZero())

			stored := get("badttl")
			Expect(stored.Status.Phase).To(Equal(devserversv1.PhaseFailed))
			Expect(stored.Status.ObservedGeneration).To(Equal(stored.Generation))
			cond := meta.FindStatusCondition(stored.Status.Conditions, devserversv1.ConditionDegraded)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonInvalidDuration))

			// The failure is terminal for this generation: no children appear
			// on subsequent reconciles.
			result, err = reconcile("badttl")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(BeZero())
			deployment := &appsv1.Deployment{}
			getErr := k8sClient.Get(ctx, types.NamespacedName{Name: "badttl", Namespace: namespace}, deployment)
			Expect(getErr).To(HaveOccurred())
		})

		It("deletes the devserver once the expiration passes", func() {
			ds := newDevServer("expires")
			ds.Spec.Lifecycle = &devserversv1.LifecycleConfig{TimeToLive: "2h"}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("expires")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("expires")
			Expect(err).NotTo(HaveOccurred())

			fakeClock.SetTime(get("expires").CreationTimestamp.Add(3 * time.Hour))
			_, err = reconcile("expires")
			Expect(err).NotTo(HaveOccurred())

			stored := get("expires")
			Expect(stored.DeletionTimestamp.IsZero()).To(BeFalse())

			// The deletion event runs the finalizer path.
			_, err = reconcile("expires")
			Expect(err).NotTo(HaveOccurred())
			getErr := k8sClient.Get(ctx, types.NamespacedName{Name: "expires", Namespace: namespace}, &devserversv1.DevServer{})
			Expect(getErr).To(HaveOccurred())
		})

		It("expires immediately when the time to live is zero", func() {
			ds := newDevServer("zero")
			ds.Spec.Lifecycle = &devserversv1.LifecycleConfig{TimeToLive: "0s"}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("zero")
			Expect(err).NotTo(HaveOccurred())

			fakeClock.SetTime(get("zero").CreationTimestamp.Time)
			_, err = reconcile("zero")
			Expect(err).NotTo(HaveOccurred())

			stored := get("zero")
			Expect(stored.Spec.Lifecycle.ExpirationTime).NotTo(BeNil())
			Expect(stored.Spec.Lifecycle.ExpirationTime.Time).To(BeTemporally("==", stored.CreationTimestamp.Time))
			Expect(stored.DeletionTimestamp.IsZero()).To(BeFalse())

			_, err = reconcile("zero")
			Expect(err).NotTo(HaveOccurred())
			getErr := k8sClient.Get(ctx, types.NamespacedName{Name: "zero", Namespace: namespace}, &devserversv1.DevServer{})
			Expect(getErr).To(HaveOccurred())
		})

		It("caps the requeue interval by the remaining lifetime", func() {
			ds := newDevServer("shortttl")
			ds.Spec.Lifecycle = &devserversv1.LifecycleConfig{TimeToLive: "10m"}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("shortttl")
			Expect(err).NotTo(HaveOccurred())

			fakeClock.SetTime(get("shortttl").CreationTimestamp.Add(time.Minute))
			result, err := reconcile("shortttl")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(9 * time.Minute))
		})
	})

	Context("flavor resolution", func() {
		It("fails while the flavor is missing and recovers when it appears", func() {
			lateFlavor := "late-" + namespace
			ds := newDevServer("noflavor")
			ds.Spec.Flavor = lateFlavor
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("noflavor")
			Expect(err).NotTo(HaveOccurred())
			result, err := reconcile("noflavor")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(5 * time.Minute))

			stored := get("noflavor")
			Expect(stored.Status.Phase).To(Equal(devserversv1.PhaseFailed))
			cond := meta.FindStatusCondition(stored.Status.Conditions, devserversv1.ConditionReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonFlavorNotFound))

			flavor := &devserversv1.DevServerFlavor{
				ObjectMeta: metav1.ObjectMeta{Name: lateFlavor},
				Spec: devserversv1.DevServerFlavorSpec{
					Resources: devserversv1.ResourceRequirements{
						Requests: corev1.ResourceList{corev1.ResourceCPU: resource.MustParse("1")},
					},
				},
			}
			Expect(k8sClient.Create(ctx, flavor)).To(Succeed())
			DeferCleanup(func() {
				Expect(client.IgnoreNotFound(k8sClient.Delete(ctx, flavor))).To(Succeed())
			})

			_, err = reconcile("noflavor")
			Expect(err).NotTo(HaveOccurred())
			Expect(get("noflavor").Status.Phase).To(Equal(devserversv1.PhasePending))
		})
	})

	Context("immutable fields", func() {
		It("keeps the home claim size and reports Degraded", func() {
			Expect(k8sClient.Create(ctx, newDevServer("grow"))).To(Succeed())
			_, err := reconcile("grow")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("grow")
			Expect(err).NotTo(HaveOccurred())

			stored := get("grow")
			stored.Spec.PersistentHomeSize = resource.MustParse("200Gi")
			Expect(k8sClient.Update(ctx, stored)).To(Succeed())

			_, err = reconcile("grow")
			Expect(err).NotTo(HaveOccurred())

			pvc := &corev1.PersistentVolumeClaim{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "grow-home", Namespace: namespace}, pvc)).To(Succeed())
			qty := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
			Expect(qty.Equal(resource.MustParse("100Gi"))).To(BeTrue())

			cond := meta.FindStatusCondition(get("grow").Status.Conditions, devserversv1.ConditionDegraded)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonImmutableField))
		})

		It("keeps the workload's shared claim and reports Degraded", func() {
			oldClaim := "old-claim-" + namespace
			claim := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: oldClaim, Namespace: namespace},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1Ti")},
					},
				},
			}
			Expect(k8sClient.Create(ctx, claim)).To(Succeed())

			ds := newDevServer("pin")
			ds.Spec.SharedVolumeClaimName = oldClaim
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())
			_, err := reconcile("pin")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("pin")
			Expect(err).NotTo(HaveOccurred())

			stored := get("pin")
			stored.Spec.SharedVolumeClaimName = "new-claim-" + namespace
			Expect(k8sClient.Update(ctx, stored)).To(Succeed())

			_, err = reconcile("pin")
			Expect(err).NotTo(HaveOccurred())

			deployment := &appsv1.Deployment{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "pin", Namespace: namespace}, deployment)).To(Succeed())
			var claimName string
			for _, v := range deployment.Spec.Template.Spec.Volumes {
				if v.Name == "shared" {
					claimName = v.PersistentVolumeClaim.ClaimName
				}
			}
			Expect(claimName).To(Equal(oldClaim))

			cond := meta.FindStatusCondition(get("pin").Status.Conditions, devserversv1.ConditionDegraded)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonImmutableField))
		})
	})

	Context("shared volume claim", func() {
		It("waits for the claim before creating the workload", func() {
			ds := newDevServer("shared")
			ds.Spec.SharedVolumeClaimName = "team-cache-" + namespace
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("shared")
			Expect(err).NotTo(HaveOccurred())
			result, err := reconcile("shared")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(5 * time.Minute))

			stored := get("shared")
			Expect(stored.Status.Phase).To(Equal(devserversv1.PhasePending))
			cond := meta.FindStatusCondition(stored.Status.Conditions, devserversv1.ConditionDegraded)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonSharedClaimNotFound))

			deployment := &appsv1.Deployment{}
			getErr := k8sClient.Get(ctx, types.NamespacedName{Name: "shared", Namespace: namespace}, deployment)
			Expect(getErr).To(HaveOccurred())

			claim := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "team-cache-" + namespace, Namespace: namespace},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1Ti")},
					},
				},
			}
			Expect(k8sClient.Create(ctx, claim)).To(Succeed())

			_, err = reconcile("shared")
			Expect(err).NotTo(HaveOccurred())
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "shared", Namespace: namespace}, deployment)).To(Succeed())

			var claimName string
			for _, v := range deployment.Spec.Template.Spec.Volumes {
				if v.Name == "shared" {
					claimName = v.PersistentVolumeClaim.ClaimName
				}
			}
			Expect(claimName).To(Equal("team-cache-" + namespace))
			Expect(meta.FindStatusCondition(get("shared").Status.Conditions, devserversv1.ConditionDegraded)).To(BeNil())
		})
	})

	Context("distributed mode", func() {
		It("creates the peer infrastructure", func() {
			ds := newDevServer("dist")
			ds.Spec.Mode = devserversv1.ModeDistributed
			ds.Spec.Distributed = &devserversv1.DistributedConfig{
				WorldSize:     2,
				NProcsPerNode: 4,
				Backend:       "nccl",
			}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("dist")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("dist")
			Expect(err).NotTo(HaveOccurred())

			sts := &appsv1.StatefulSet{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dist", Namespace: namespace}, sts)).To(Succeed())
			Expect(*sts.Spec.Replicas).To(Equal(int32(2)))
			Expect(sts.Spec.ServiceName).To(Equal("dist-peers"))

			peers := &corev1.Service{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dist-peers", Namespace: namespace}, peers)).To(Succeed())
			Expect(peers.Spec.ClusterIP).To(Equal(corev1.ClusterIPNone))

			cm := &corev1.ConfigMap{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dist-config", Namespace: namespace}, cm)).To(Succeed())
			Expect(cm.Data["WORLD_SIZE"]).To(Equal("2"))
			Expect(cm.Data["MASTER_ADDR"]).To(Equal("dist-0.dist-peers." + namespace + ".svc"))

			ssh := &corev1.Service{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dist-ssh", Namespace: namespace}, ssh)).To(Succeed())
		})

		It("rejects distributed mode without distributed settings", func() {
			ds := newDevServer("nodist")
			ds.Spec.Mode = devserversv1.ModeDistributed
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("nodist")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("nodist")
			Expect(err).NotTo(HaveOccurred())

			stored := get("nodist")
			Expect(stored.Status.Phase).To(Equal(devserversv1.PhaseFailed))
			cond := meta.FindStatusCondition(stored.Status.Conditions, devserversv1.ConditionDegraded)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonInvalidSpec))
		})
	})

	Context("lifecycle policy", func() {
		It("reports the unresolved idle policy as Degraded", func() {
			ds := newDevServer("idle")
			ds.Spec.Lifecycle = &devserversv1.LifecycleConfig{
				IdleTimeout:  3600,
				AutoShutdown: true,
			}
			Expect(k8sClient.Create(ctx, ds)).To(Succeed())

			_, err := reconcile("idle")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("idle")
			Expect(err).NotTo(HaveOccurred())

			cond := meta.FindStatusCondition(get("idle").Status.Conditions, devserversv1.ConditionDegraded)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(devserversv1.ReasonIdlePolicyUnresolved))

			// The workload still comes up; the condition is informational.
			deployment := &appsv1.Deployment{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "idle", Namespace: namespace}, deployment)).To(Succeed())
		})
	})
})
