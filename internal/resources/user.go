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

package resources

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

// UserRoleName is the fixed name of the per-namespace role granted to every
// provisioned user.
const UserRoleName = "dev-user"

// UserQuotaName is the fixed name of the per-namespace resource quota.
const UserQuotaName = "dev-user-quota"

// UserNamespaceName returns the namespace provisioned for a user.
func UserNamespaceName(user *devserversv1.DevServerUser) string {
	return fmt.Sprintf("dev-%s", user.Spec.Username)
}

// UserServiceAccountName returns the service account provisioned for a user.
func UserServiceAccountName(user *devserversv1.DevServerUser) string {
	return fmt.Sprintf("%s-sa", user.Spec.Username)
}

func userLabels(user *devserversv1.DevServerUser) map[string]string {
	return map[string]string{
		"devserver.io/user":    user.Spec.Username,
		"devserver.io/managed": "true",
	}
}

// UserNamespace returns the desired namespace for a user.
func UserNamespace(user *devserversv1.DevServerUser) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   UserNamespaceName(user),
			Labels: userLabels(user),
		},
	}
}

// UserServiceAccount returns the desired service account for a user.
func UserServiceAccount(user *devserversv1.DevServerUser) *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:      UserServiceAccountName(user),
			Namespace: UserNamespaceName(user),
			Labels:    userLabels(user),
		},
	}
}

// UserRole returns the namespaced role granting users full management of
// their DevServers and the owned primitives they may need to inspect.
func UserRole(user *devserversv1.DevServerUser) *rbacv1.Role {
	verbs := []string{"get", "list", "watch", "create", "update", "patch", "delete"}
	return &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{
			Name:      UserRoleName,
			Namespace: UserNamespaceName(user),
			Labels:    userLabels(user),
		},
		Rules: []rbacv1.PolicyRule{
			{
				APIGroups: []string{devserversv1.GroupVersion.Group},
				Resources: []string{"devservers"},
				Verbs:     verbs,
			},
			{
				APIGroups: []string{""},
				Resources: []string{"pods", "services", "persistentvolumeclaims", "configmaps", "secrets"},
				Verbs:     verbs,
			},
		},
	}
}

// UserRoleBinding returns the binding linking the user role to the user's
// service account.
func UserRoleBinding(user *devserversv1.DevServerUser) *rbacv1.RoleBinding {
	return &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{
			Name:      UserRoleName,
			Namespace: UserNamespaceName(user),
			Labels:    userLabels(user),
		},
		Subjects: []rbacv1.Subject{
			{
				Kind:      rbacv1.ServiceAccountKind,
				Name:      UserServiceAccountName(user),
				Namespace: UserNamespaceName(user),
			},
		},
		RoleRef: rbacv1.RoleRef{
			APIGroup: rbacv1.GroupName,
			Kind:     "Role",
			Name:     UserRoleName,
		},
	}
}

// defaultUserQuota is the quota applied when the DevServerUser carries no
// overrides.
func defaultUserQuota() corev1.ResourceList {
	return corev1.ResourceList{
		corev1.ResourceRequestsCPU:            resource.MustParse("16"),
		corev1.ResourceRequestsMemory:         resource.MustParse("64Gi"),
		corev1.ResourcePods:                   resource.MustParse("10"),
		corev1.ResourcePersistentVolumeClaims: resource.MustParse("10"),
	}
}

// UserResourceQuota returns the namespace quota: defaults merged with any
// per-user overrides, overrides winning per key.
func UserResourceQuota(user *devserversv1.DevServerUser) *corev1.ResourceQuota {
	hard := defaultUserQuota()
	for name, qty := range user.Spec.Quota {
		hard[name] = qty
	}
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      UserQuotaName,
			Namespace: UserNamespaceName(user),
			Labels:    userLabels(user),
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: hard,
		},
	}
}
