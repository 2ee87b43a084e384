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
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

// DevServerFlavorReconciler validates DevServerFlavor resources and
// publishes the Available condition. Flavors own no children.
type DevServerFlavorReconciler struct {
	client.Client
	Scheme *runtime.Scheme
}

// +kubebuilder:rbac:groups=devserver.io,resources=devserverflavors,verbs=get;list;watch
// +kubebuilder:rbac:groups=devserver.io,resources=devserverflavors/status,verbs=get;update;patch

// Reconcile checks the flavor spec for internal consistency.
func (r *DevServerFlavorReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	flavor := &devserversv1.DevServerFlavor{}
	if err := r.Get(ctx, req.NamespacedName, flavor); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	condition := metav1.Condition{
		Type:    devserversv1.ConditionAvailable,
		Status:  metav1.ConditionTrue,
		Reason:  devserversv1.ReasonFlavorValid,
		Message: "flavor spec is valid",
	}
	if err := validateFlavor(flavor); err != nil {
		log.Info("DevServerFlavor failed validation", "flavor", flavor.Name, "reason", err.Error())
		condition.Status = metav1.ConditionFalse
		condition.Reason = devserversv1.ReasonFlavorInvalid
		condition.Message = err.Error()
	}

	if !meta.SetStatusCondition(&flavor.Status.Conditions, condition) {
		return ctrl.Result{}, nil
	}
	if err := r.Status().Update(ctx, flavor); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	return ctrl.Result{}, nil
}

// validateFlavor reports the first problem found in a flavor spec.
func validateFlavor(flavor *devserversv1.DevServerFlavor) error {
	requests := flavor.Spec.Resources.Requests
	limits := flavor.Spec.Resources.Limits
	for name, request := range requests {
		limit, ok := limits[name]
		if !ok {
			continue
		}
		if request.Cmp(limit) > 0 {
			return fmt.Errorf("request for %s (%s) exceeds limit (%s)", name, request.String(), limit.String())
		}
	}

	for key := range flavor.Spec.NodeSelector {
		if key == "" {
			return fmt.Errorf("nodeSelector contains an empty key")
		}
	}

	for i, toleration := range flavor.Spec.Tolerations {
		switch toleration.Operator {
		case corev1.TolerationOpExists:
			if toleration.Value != "" {
				return fmt.Errorf("tolerations[%d]: value must be empty when operator is Exists", i)
			}
		case corev1.TolerationOpEqual, "":
		default:
			return fmt.Errorf("tolerations[%d]: unknown operator %q", i, toleration.Operator)
		}
		if toleration.Key == "" && toleration.Operator != corev1.TolerationOpExists {
			return fmt.Errorf("tolerations[%d]: operator must be Exists when key is empty", i)
		}
	}
	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *DevServerFlavorReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&devserversv1.DevServerFlavor{}).
		Named("devserverflavor").
		Complete(r)
}
