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
	"context"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserversv1 "github.com/seemethere/devserver/api/v1"
	"github.com/seemethere/devserver/internal/resources"
)

// DevServerUserReconciler provisions the per-user namespace, service
// account, RBAC and resource quota for a DevServerUser.
type DevServerUserReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
}

// +kubebuilder:rbac:groups=devserver.io,resources=devserverusers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=devserver.io,resources=devserverusers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=namespaces,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=serviceaccounts,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=resourcequotas,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=rbac.authorization.k8s.io,resources=roles;rolebindings,verbs=get;list;watch;create;update;patch;delete;bind;escalate

// Reconcile ensures the user workspace exists and matches the spec.
func (r *DevServerUserReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	user := &devserversv1.DevServerUser{}
	if err := r.Get(ctx, req.NamespacedName, user); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		log.Error(err, "Failed to get DevServerUser")
		return ctrl.Result{}, err
	}

	// The namespace carries the owner reference; deleting the DevServerUser
	// tears the whole workspace down through garbage collection.
	if !user.ObjectMeta.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	log.Info("Provisioning user workspace", "username", user.Spec.Username)

	if err := r.provision(ctx, user); err != nil {
		log.Error(err, "Failed to provision user workspace")
		meta.SetStatusCondition(&user.Status.Conditions, metav1.Condition{
			Type:    devserversv1.ConditionReady,
			Status:  metav1.ConditionFalse,
			Reason:  devserversv1.ReasonUserProvisionFailed,
			Message: err.Error(),
		})
		if serr := r.Status().Update(ctx, user); serr != nil {
			log.Error(serr, "Failed to update DevServerUser status")
		}
		return ctrl.Result{}, err
	}

	user.Status.Namespace = resources.UserNamespaceName(user)
	changed := meta.SetStatusCondition(&user.Status.Conditions, metav1.Condition{
		Type:    devserversv1.ConditionReady,
		Status:  metav1.ConditionTrue,
		Reason:  devserversv1.ReasonUserProvisioned,
		Message: "user workspace provisioned",
	})
	if err := r.Status().Update(ctx, user); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	if changed {
		r.Recorder.Eventf(user, corev1.EventTypeNormal, "Provisioned",
			"Namespace %s ready", user.Status.Namespace)
	}
	return ctrl.Result{}, nil
}

func (r *DevServerUserReconciler) provision(ctx context.Context, user *devserversv1.DevServerUser) error {
	namespace := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: resources.UserNamespaceName(user)}}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, namespace, func() error {
		if err := controllerutil.SetControllerReference(user, namespace, r.Scheme); err != nil {
			return err
		}
		namespace.Labels = resources.UserNamespace(user).Labels
		return nil
	}); err != nil {
		return err
	}

	sa := &corev1.ServiceAccount{ObjectMeta: metav1.ObjectMeta{
		Name:      resources.UserServiceAccountName(user),
		Namespace: namespace.Name,
	}}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, sa, func() error {
		if err := controllerutil.SetControllerReference(user, sa, r.Scheme); err != nil {
			return err
		}
		sa.Labels = resources.UserServiceAccount(user).Labels
		return nil
	}); err != nil {
		return err
	}

	desiredRole := resources.UserRole(user)
	role := &rbacv1.Role{ObjectMeta: metav1.ObjectMeta{Name: desiredRole.Name, Namespace: desiredRole.Namespace}}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, role, func() error {
		if err := controllerutil.SetControllerReference(user, role, r.Scheme); err != nil {
			return err
		}
		role.Labels = desiredRole.Labels
		role.Rules = desiredRole.Rules
		return nil
	}); err != nil {
		return err
	}

	desiredBinding := resources.UserRoleBinding(user)
	binding := &rbacv1.RoleBinding{ObjectMeta: metav1.ObjectMeta{Name: desiredBinding.Name, Namespace: desiredBinding.Namespace}}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, binding, func() error {
		if err := controllerutil.SetControllerReference(user, binding, r.Scheme); err != nil {
			return err
		}
		// RoleRef is immutable; only set it at creation.
		if binding.CreationTimestamp.IsZero() {
			binding.RoleRef = desiredBinding.RoleRef
		}
		binding.Labels = desiredBinding.Labels
		binding.Subjects = desiredBinding.Subjects
		return nil
	}); err != nil {
		return err
	}

	desiredQuota := resources.UserResourceQuota(user)
	quota := &corev1.ResourceQuota{ObjectMeta: metav1.ObjectMeta{Name: desiredQuota.Name, Namespace: desiredQuota.Namespace}}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, quota, func() error {
		if err := controllerutil.SetControllerReference(user, quota, r.Scheme); err != nil {
			return err
		}
		quota.Labels = desiredQuota.Labels
		quota.Spec.Hard = desiredQuota.Spec.Hard
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *DevServerUserReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&devserversv1.DevServerUser{}).
		Owns(&corev1.Namespace{}).
		Named("devserveruser").
		Complete(r)
}
