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
	"time"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserversv1 "github.com/seemethere/devserver/api/v1"
	"github.com/seemethere/devserver/internal/duration"
	"github.com/seemethere/devserver/internal/resources"
	"github.com/seemethere/devserver/internal/sshkeys"
)

const (
	// DevServerFinalizer is the finalizer added to DevServer resources
	DevServerFinalizer = "devserver.devservers.io/finalizer"

	// preconditionRequeue is how long to wait before rechecking a missing
	// flavor or shared volume claim.
	preconditionRequeue = 5 * time.Minute

	// statusUpdateRetries bounds re-reads on status write conflicts within
	// one reconcile.
	statusUpdateRetries = 3
)

// Event reasons emitted against DevServer resources.
const (
	EventFinalizerAdded = "FinalizerAdded"
	EventFlavorNotFound = "FlavorNotFound"
	EventExpired        = "Expired"
	EventChildCreated   = "ChildCreated"
	EventChildPatched   = "ChildPatched"
	EventReady          = "Ready"
	EventDegraded       = "Degraded"
	EventFailed         = "Failed"
)

// DevServerReconciler reconciles a DevServer object
type DevServerReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	// Clock is injectable for expiration tests; defaults to the real clock.
	Clock clock.PassiveClock

	// ReconcileDeadline bounds a single reconcile; zero means no deadline.
	ReconcileDeadline time.Duration

	// DefaultRequeue caps how long a DevServer goes without a reconcile.
	DefaultRequeue time.Duration

	// WorkerCount is the number of concurrent reconciles.
	WorkerCount int
}

// +kubebuilder:rbac:groups=devserver.io,resources=devservers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=devserver.io,resources=devservers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=devserver.io,resources=devservers/finalizers,verbs=update
// +kubebuilder:rbac:groups=devserver.io,resources=devserverflavors,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=persistentvolumeclaims,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=apps,resources=statefulsets,verbs=get;list;watch;create;update;patch;delete

// Reconcile drives a DevServer toward its desired state: finalizer, TTL
// materialization, expiration, flavor resolution, owned children and status.
func (r *DevServerReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	if r.ReconcileDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ReconcileDeadline)
		defer cancel()
	}

	devServer := &devserversv1.DevServer{}
	if err := r.Get(ctx, req.NamespacedName, devServer); err != nil {
		if apierrors.IsNotFound(err) {
			// Request object not found, could have been deleted after reconcile request
			return ctrl.Result{}, nil
		}
		log.Error(err, "Failed to get DevServer")
		return ctrl.Result{}, err
	}

	// Finalizer gate.
	if devServer.ObjectMeta.DeletionTimestamp.IsZero() {
		if !controllerutil.ContainsFinalizer(devServer, DevServerFinalizer) {
			controllerutil.AddFinalizer(devServer, DevServerFinalizer)
			if err := r.Update(ctx, devServer); err != nil {
				return ctrl.Result{}, err
			}
			r.Recorder.Event(devServer, corev1.EventTypeNormal, EventFinalizerAdded, "Finalizer added")
			return ctrl.Result{}, nil
		}
	} else {
		return r.finalize(ctx, devServer)
	}

	// A validation failure is terminal for this generation; wait for the
	// spec to change before doing anything else.
	if r.validationFailed(devServer) {
		return ctrl.Result{}, nil
	}

	return r.reconcileDevServer(ctx, devServer)
}

// finalize runs the deletion path. Owner references take care of the
// children; we only record the transition and release the finalizer.
func (r *DevServerReconciler) finalize(ctx context.Context, devServer *devserversv1.DevServer) (ctrl.Result, error) {
	log := logf.FromContext(ctx)
	if !controllerutil.ContainsFinalizer(devServer, DevServerFinalizer) {
		return ctrl.Result{}, nil
	}

	devServer.Status.Phase = devserversv1.PhaseTerminating
	devServer.Status.Ready = false
	// Best effort: the object is going away either way.
	if err := r.Status().Update(ctx, devServer); err != nil && !apierrors.IsNotFound(err) && !apierrors.IsConflict(err) {
		log.Error(err, "Failed to record Terminating phase")
	}

	log.Info("Cleaning up DevServer", "devserver", devServer.Name)
	controllerutil.RemoveFinalizer(devServer, DevServerFinalizer)
	if err := r.Update(ctx, devServer); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	return ctrl.Result{}, nil
}

// validationFailed reports whether the current generation already failed
// validation, in which case reconciliation is suspended until the spec
// changes.
func (r *DevServerReconciler) validationFailed(devServer *devserversv1.DevServer) bool {
	if devServer.Status.Phase != devserversv1.PhaseFailed {
		return false
	}
	if devServer.Status.ObservedGeneration != devServer.Generation {
		return false
	}
	cond := meta.FindStatusCondition(devServer.Status.Conditions, devserversv1.ConditionDegraded)
	if cond == nil {
		return false
	}
	return cond.Reason == devserversv1.ReasonInvalidDuration || cond.Reason == devserversv1.ReasonInvalidSpec
}

// reconcileDevServer handles the main reconciliation logic
func (r *DevServerReconciler) reconcileDevServer(ctx context.Context, devServer *devserversv1.DevServer) (ctrl.Result, error) {
	log := logf.FromContext(ctx)
	log.Info("Reconciling DevServer", "devserver", devServer.Name, "mode", devServer.Spec.Mode)

	// Time-to-live materialization, exactly once.
	if lc := devServer.Spec.Lifecycle; lc != nil && lc.TimeToLive != "" && lc.ExpirationTime == nil {
		ttl, err := duration.Parse(lc.TimeToLive)
		if err != nil {
			log.Info("Rejecting malformed timeToLive", "timeToLive", lc.TimeToLive)
			return ctrl.Result{}, r.markValidationFailed(ctx, devServer, devserversv1.ReasonInvalidDuration,
				"spec.lifecycle.timeToLive is not a valid duration: "+err.Error())
		}
		patch := client.MergeFrom(devServer.DeepCopy())
		expiration := metav1.NewTime(devServer.CreationTimestamp.Add(ttl))
		devServer.Spec.Lifecycle.ExpirationTime = &expiration
		if err := r.Patch(ctx, devServer, patch); err != nil {
			return ctrl.Result{}, errors.Wrap(err, "materializing expirationTime")
		}
		log.Info("Materialized expirationTime", "expirationTime", expiration)
	}

	// Expiration check.
	requeueAfter := r.DefaultRequeue
	if lc := devServer.Spec.Lifecycle; lc != nil && lc.ExpirationTime != nil {
		remaining := lc.ExpirationTime.Sub(r.Clock.Now())
		if remaining <= 0 {
			log.Info("DevServer expired, deleting", "expirationTime", lc.ExpirationTime)
			r.Recorder.Event(devServer, corev1.EventTypeNormal, EventExpired, "Time to live elapsed")
			if err := r.Delete(ctx, devServer); err != nil {
				return ctrl.Result{}, client.IgnoreNotFound(err)
			}
			return ctrl.Result{}, nil
		}
		if remaining < requeueAfter {
			requeueAfter = remaining
		}
	}

	// Flavor resolution.
	flavor := &devserversv1.DevServerFlavor{}
	if err := r.Get(ctx, types.NamespacedName{Name: devServer.Spec.Flavor}, flavor); err != nil {
		if apierrors.IsNotFound(err) {
			log.Info("DevServerFlavor not found", "flavor", devServer.Spec.Flavor)
			r.Recorder.Eventf(devServer, corev1.EventTypeWarning, EventFlavorNotFound,
				"DevServerFlavor %q does not exist", devServer.Spec.Flavor)
			devServer.Status.Phase = devserversv1.PhaseFailed
			devServer.Status.Ready = false
			meta.SetStatusCondition(&devServer.Status.Conditions, metav1.Condition{
				Type:    devserversv1.ConditionReady,
				Status:  metav1.ConditionFalse,
				Reason:  devserversv1.ReasonFlavorNotFound,
				Message: "referenced DevServerFlavor " + devServer.Spec.Flavor + " does not exist",
			})
			if err := r.updateStatus(ctx, devServer); err != nil {
				return ctrl.Result{}, err
			}
			return ctrl.Result{RequeueAfter: preconditionRequeue}, nil
		}
		return ctrl.Result{}, err
	}

	degraded := r.checkLifecyclePolicy(devServer)

	var err error
	switch devServer.Spec.Mode {
	case devserversv1.ModeDistributed:
		if devServer.Spec.Distributed == nil {
			return ctrl.Result{}, r.markValidationFailed(ctx, devServer, devserversv1.ReasonInvalidSpec,
				"spec.distributed is required when mode is distributed")
		}
		degraded, err = r.reconcileDistributed(ctx, devServer, flavor, degraded)
	default:
		degraded, err = r.reconcileStandalone(ctx, devServer, flavor, degraded)
	}
	if err != nil {
		if errors.Is(err, errSharedClaimMissing) {
			devServer.Status.Phase = devserversv1.PhasePending
			devServer.Status.Ready = false
			if err := r.updateStatus(ctx, devServer); err != nil {
				return ctrl.Result{}, err
			}
			return ctrl.Result{RequeueAfter: preconditionRequeue}, nil
		}
		log.Error(err, "Failed to reconcile DevServer children")
		return ctrl.Result{}, err
	}

	if err := r.projectStatus(ctx, devServer, degraded); err != nil {
		return ctrl.Result{}, err
	}

	return ctrl.Result{RequeueAfter: requeueAfter}, nil
}

// degradedState accumulates Degraded condition inputs across the reconcile
// so status is written once, atomically.
type degradedState struct {
	reason  string
	message string
}

// checkLifecyclePolicy surfaces the unresolved autoShutdown/idleTimeout
// semantics. Whether the combination should delete or pause the workload is
// an open product question; until it is answered we only report it.
func (r *DevServerReconciler) checkLifecyclePolicy(devServer *devserversv1.DevServer) *degradedState {
	lc := devServer.Spec.Lifecycle
	if lc == nil || !lc.AutoShutdown || lc.IdleTimeout == 0 {
		return nil
	}
	return &degradedState{
		reason:  devserversv1.ReasonIdlePolicyUnresolved,
		message: "autoShutdown with idleTimeout has no defined transition; idle shutdown is not performed",
	}
}

// errSharedClaimMissing marks a reconcile blocked on a missing shared
// volume claim (a precondition, not a failure).
var errSharedClaimMissing = errors.New("shared volume claim missing")

// reconcileStandalone ensures the children of a standalone DevServer:
// home claim, host keys, deployment and SSH service.
func (r *DevServerReconciler) reconcileStandalone(ctx context.Context, devServer *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor, degraded *degradedState) (*degradedState, error) {
	degraded, err := r.reconcileHomeClaim(ctx, devServer, degraded)
	if err != nil {
		return degraded, err
	}
	sharedClaim, degraded, err := r.effectiveSharedClaim(ctx, devServer, degraded)
	if err != nil {
		return degraded, err
	}
	degraded, err = r.checkSharedClaim(ctx, devServer, sharedClaim, degraded)
	if err != nil {
		return degraded, err
	}
	if devServer.Spec.EnableSSH {
		if err := r.reconcileHostKeys(ctx, devServer); err != nil {
			return degraded, err
		}
	}
	if err := r.reconcileDeployment(ctx, devServer, flavor, sharedClaim); err != nil {
		return degraded, err
	}
	if devServer.Spec.EnableSSH {
		if err := r.reconcileService(ctx, devServer, resources.SSHService(devServer)); err != nil {
			return degraded, err
		}
	}
	return degraded, nil
}

// reconcileDistributed ensures the children of a distributed DevServer:
// headless peers service, host keys, stateful set (with per-replica home
// claims), peer-discovery config map and the SSH service.
func (r *DevServerReconciler) reconcileDistributed(ctx context.Context, devServer *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor, degraded *degradedState) (*degradedState, error) {
	sharedClaim, degraded, err := r.effectiveSharedClaim(ctx, devServer, degraded)
	if err != nil {
		return degraded, err
	}
	degraded, err = r.checkSharedClaim(ctx, devServer, sharedClaim, degraded)
	if err != nil {
		return degraded, err
	}
	if err := r.reconcileService(ctx, devServer, resources.PeersService(devServer)); err != nil {
		return degraded, err
	}
	if devServer.Spec.EnableSSH {
		if err := r.reconcileHostKeys(ctx, devServer); err != nil {
			return degraded, err
		}
		if err := r.reconcileService(ctx, devServer, resources.SSHService(devServer)); err != nil {
			return degraded, err
		}
	}
	if err := r.reconcileConfigMap(ctx, devServer); err != nil {
		return degraded, err
	}
	if err := r.reconcileStatefulSet(ctx, devServer, flavor, sharedClaim); err != nil {
		return degraded, err
	}
	return degraded, nil
}

// withSharedClaim returns a copy of the DevServer rendering with the
// effective shared claim when it differs from the spec.
func withSharedClaim(devServer *devserversv1.DevServer, sharedClaim string) *devserversv1.DevServer {
	if sharedClaim == devServer.Spec.SharedVolumeClaimName {
		return devServer
	}
	out := devServer.DeepCopy()
	out.Spec.SharedVolumeClaimName = sharedClaim
	return out
}

// sharedClaimName extracts the claim backing the "shared" volume of a pod
// spec, or "" when none is mounted.
func sharedClaimName(spec corev1.PodSpec) string {
	for _, volume := range spec.Volumes {
		if volume.Name == "shared" && volume.PersistentVolumeClaim != nil {
			return volume.PersistentVolumeClaim.ClaimName
		}
	}
	return ""
}

// effectiveSharedClaim returns the shared claim the workload should mount.
// The field is immutable after the workload exists: a changed spec value is
// ignored in favor of the stored one and surfaced as Degraded.
func (r *DevServerReconciler) effectiveSharedClaim(ctx context.Context, devServer *devserversv1.DevServer, degraded *degradedState) (string, *degradedState, error) {
	claim := devServer.Spec.SharedVolumeClaimName

	var template corev1.PodSpec
	if devServer.Spec.Mode == devserversv1.ModeDistributed {
		sts := &appsv1.StatefulSet{}
		if err := r.Get(ctx, types.NamespacedName{Name: devServer.Name, Namespace: devServer.Namespace}, sts); err != nil {
			if apierrors.IsNotFound(err) {
				return claim, degraded, nil
			}
			return claim, degraded, err
		}
		template = sts.Spec.Template.Spec
	} else {
		deployment := &appsv1.Deployment{}
		if err := r.Get(ctx, types.NamespacedName{Name: devServer.Name, Namespace: devServer.Namespace}, deployment); err != nil {
			if apierrors.IsNotFound(err) {
				return claim, degraded, nil
			}
			return claim, degraded, err
		}
		template = deployment.Spec.Template.Spec
	}

	stored := sharedClaimName(template)
	if stored == claim {
		return claim, degraded, nil
	}
	if degraded == nil {
		degraded = &degradedState{
			reason:  devserversv1.ReasonImmutableField,
			message: fmt.Sprintf("sharedVolumeClaimName is immutable; workload keeps %q", stored),
		}
	}
	return stored, degraded, nil
}

// checkSharedClaim verifies the shared volume claim exists before any
// workload mounts it.
func (r *DevServerReconciler) checkSharedClaim(ctx context.Context, devServer *devserversv1.DevServer, name string, degraded *degradedState) (*degradedState, error) {
	if name == "" {
		return degraded, nil
	}
	pvc := &corev1.PersistentVolumeClaim{}
	err := r.Get(ctx, types.NamespacedName{Name: name, Namespace: devServer.Namespace}, pvc)
	if apierrors.IsNotFound(err) {
		if degraded == nil {
			degraded = &degradedState{
				reason:  devserversv1.ReasonSharedClaimNotFound,
				message: "shared volume claim " + name + " does not exist",
			}
		}
		r.setDegraded(ctx, devServer, degraded)
		return degraded, errSharedClaimMissing
	}
	return degraded, err
}

// setDegraded records the Degraded condition on the in-memory object; the
// caller is responsible for the eventual status write.
func (r *DevServerReconciler) setDegraded(ctx context.Context, devServer *devserversv1.DevServer, degraded *degradedState) {
	changed := meta.SetStatusCondition(&devServer.Status.Conditions, metav1.Condition{
		Type:    devserversv1.ConditionDegraded,
		Status:  metav1.ConditionTrue,
		Reason:  degraded.reason,
		Message: degraded.message,
	})
	if changed {
		r.Recorder.Event(devServer, corev1.EventTypeWarning, EventDegraded, degraded.message)
	}
}

// markValidationFailed records a terminal validation failure for the
// current generation. The item is not requeued; a spec change re-enters.
func (r *DevServerReconciler) markValidationFailed(ctx context.Context, devServer *devserversv1.DevServer, reason, message string) error {
	devServer.Status.Phase = devserversv1.PhaseFailed
	devServer.Status.Ready = false
	devServer.Status.ObservedGeneration = devServer.Generation
	meta.SetStatusCondition(&devServer.Status.Conditions, metav1.Condition{
		Type:    devserversv1.ConditionDegraded,
		Status:  metav1.ConditionTrue,
		Reason:  reason,
		Message: message,
	})
	r.Recorder.Event(devServer, corev1.EventTypeWarning, EventFailed, message)
	return r.updateStatus(ctx, devServer)
}

// reconcileHomeClaim creates the home volume claim once and never patches
// its spec afterwards. A changed persistentHomeSize is surfaced as a
// Degraded condition instead of a write the API would reject.
func (r *DevServerReconciler) reconcileHomeClaim(ctx context.Context, devServer *devserversv1.DevServer, degraded *degradedState) (*degradedState, error) {
	log := logf.FromContext(ctx)
	existing := &corev1.PersistentVolumeClaim{}
	key := types.NamespacedName{Name: resources.HomeClaimName(devServer), Namespace: devServer.Namespace}

	err := r.Get(ctx, key, existing)
	if apierrors.IsNotFound(err) {
		pvc := resources.HomeVolumeClaim(devServer)
		if err := controllerutil.SetControllerReference(devServer, pvc, r.Scheme); err != nil {
			return degraded, err
		}
		if err := r.Create(ctx, pvc); err != nil {
			return degraded, err
		}
		r.Recorder.Eventf(devServer, corev1.EventTypeNormal, EventChildCreated, "Created PersistentVolumeClaim %s", pvc.Name)
		log.Info("PVC created", "pvc", pvc.Name)
		return degraded, nil
	}
	if err != nil {
		return degraded, err
	}

	// Claim storage is immutable post-creation.
	stored := existing.Spec.Resources.Requests[corev1.ResourceStorage]
	if !stored.Equal(devServer.Spec.PersistentHomeSize) && degraded == nil {
		degraded = &degradedState{
			reason:  devserversv1.ReasonImmutableField,
			message: "persistentHomeSize is immutable; volume claim keeps " + stored.String(),
		}
	}

	// Only mutable metadata is reconciled on an existing claim.
	if !metav1.IsControlledBy(existing, devServer) {
		if err := controllerutil.SetControllerReference(devServer, existing, r.Scheme); err != nil {
			return degraded, err
		}
		if err := r.Update(ctx, existing); err != nil {
			return degraded, err
		}
		log.Info("PVC ownership updated", "pvc", existing.Name)
	}
	return degraded, nil
}

// reconcileHostKeys creates the host-key secret the first time the
// DevServer is seen. Regeneration is forbidden once the secret exists.
func (r *DevServerReconciler) reconcileHostKeys(ctx context.Context, devServer *devserversv1.DevServer) error {
	log := logf.FromContext(ctx)
	existing := &corev1.Secret{}
	key := types.NamespacedName{Name: resources.HostKeysSecretName(devServer), Namespace: devServer.Namespace}

	err := r.Get(ctx, key, existing)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}

	keys, err := sshkeys.GenerateHostKeys()
	if err != nil {
		return errors.Wrap(err, "generating host keys")
	}
	secret := resources.HostKeysSecret(devServer, keys)
	if err := controllerutil.SetControllerReference(devServer, secret, r.Scheme); err != nil {
		return err
	}
	if err := r.Create(ctx, secret); err != nil {
		// Lost a race with a previous reconcile; the existing keys win.
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	r.Recorder.Eventf(devServer, corev1.EventTypeNormal, EventChildCreated, "Created Secret %s", secret.Name)
	log.Info("Host-key secret created", "secret", secret.Name)
	return nil
}

// reconcileDeployment creates or patches the standalone workload. The pod
// template is rendered with the effective shared claim, never the spec's.
func (r *DevServerReconciler) reconcileDeployment(ctx context.Context, devServer *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor, sharedClaim string) error {
	desired := resources.Deployment(withSharedClaim(devServer, sharedClaim), flavor)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: desired.Name, Namespace: desired.Namespace},
	}

	op, err := controllerutil.CreateOrUpdate(ctx, r.Client, deployment, func() error {
		if err := controllerutil.SetControllerReference(devServer, deployment, r.Scheme); err != nil {
			return err
		}
		deployment.Labels = desired.Labels
		if deployment.CreationTimestamp.IsZero() {
			deployment.Spec = desired.Spec
			return nil
		}
		// Selector is immutable; only the mutable fields are re-patched.
		deployment.Spec.Replicas = desired.Spec.Replicas
		deployment.Spec.Template = desired.Spec.Template
		return nil
	})
	if err != nil {
		return err
	}
	r.recordChildOp(devServer, "Deployment", deployment.Name, op)
	return nil
}

// reconcileStatefulSet creates or patches the distributed workload. The
// volume claim template is immutable and left untouched after creation.
func (r *DevServerReconciler) reconcileStatefulSet(ctx context.Context, devServer *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor, sharedClaim string) error {
	desired := resources.StatefulSet(withSharedClaim(devServer, sharedClaim), flavor)
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: desired.Name, Namespace: desired.Namespace},
	}

	op, err := controllerutil.CreateOrUpdate(ctx, r.Client, sts, func() error {
		if err := controllerutil.SetControllerReference(devServer, sts, r.Scheme); err != nil {
			return err
		}
		sts.Labels = desired.Labels
		if sts.CreationTimestamp.IsZero() {
			sts.Spec = desired.Spec
			return nil
		}
		sts.Spec.Replicas = desired.Spec.Replicas
		sts.Spec.Template = desired.Spec.Template
		return nil
	})
	if err != nil {
		return err
	}
	r.recordChildOp(devServer, "StatefulSet", sts.Name, op)
	return nil
}

// reconcileService creates or patches a service. The cluster IP is
// allocated by the API and never touched.
func (r *DevServerReconciler) reconcileService(ctx context.Context, devServer *devserversv1.DevServer, desired *corev1.Service) error {
	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: desired.Name, Namespace: desired.Namespace},
	}

	op, err := controllerutil.CreateOrUpdate(ctx, r.Client, service, func() error {
		if err := controllerutil.SetControllerReference(devServer, service, r.Scheme); err != nil {
			return err
		}
		service.Labels = desired.Labels
		service.Spec.Selector = desired.Spec.Selector
		service.Spec.Ports = desired.Spec.Ports
		if service.CreationTimestamp.IsZero() {
			service.Spec.Type = desired.Spec.Type
			service.Spec.ClusterIP = desired.Spec.ClusterIP
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.recordChildOp(devServer, "Service", service.Name, op)
	return nil
}

// reconcileConfigMap creates or patches the peer-discovery config map.
func (r *DevServerReconciler) reconcileConfigMap(ctx context.Context, devServer *devserversv1.DevServer) error {
	desired := resources.PeerDiscoveryConfigMap(devServer)
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: desired.Name, Namespace: desired.Namespace},
	}

	op, err := controllerutil.CreateOrUpdate(ctx, r.Client, cm, func() error {
		if err := controllerutil.SetControllerReference(devServer, cm, r.Scheme); err != nil {
			return err
		}
		cm.Labels = desired.Labels
		cm.Data = desired.Data
		return nil
	})
	if err != nil {
		return err
	}
	r.recordChildOp(devServer, "ConfigMap", cm.Name, op)
	return nil
}

func (r *DevServerReconciler) recordChildOp(devServer *devserversv1.DevServer, kind, name string, op controllerutil.OperationResult) {
	switch op {
	case controllerutil.OperationResultCreated:
		r.Recorder.Eventf(devServer, corev1.EventTypeNormal, EventChildCreated, "Created %s %s", kind, name)
	case controllerutil.OperationResultUpdated:
		r.Recorder.Eventf(devServer, corev1.EventTypeNormal, EventChildPatched, "Patched %s %s", kind, name)
	}
}

// projectStatus inspects the owned workload and pods and writes the
// DevServer status once.
func (r *DevServerReconciler) projectStatus(ctx context.Context, devServer *devserversv1.DevServer, degraded *degradedState) error {
	var desiredReplicas, readyReplicas int32

	if devServer.Spec.Mode == devserversv1.ModeDistributed {
		sts := &appsv1.StatefulSet{}
		if err := r.Get(ctx, types.NamespacedName{Name: devServer.Name, Namespace: devServer.Namespace}, sts); err != nil {
			return client.IgnoreNotFound(err)
		}
		if sts.Spec.Replicas != nil {
			desiredReplicas = *sts.Spec.Replicas
		}
		readyReplicas = sts.Status.ReadyReplicas
	} else {
		deployment := &appsv1.Deployment{}
		if err := r.Get(ctx, types.NamespacedName{Name: devServer.Name, Namespace: devServer.Namespace}, deployment); err != nil {
			return client.IgnoreNotFound(err)
		}
		if deployment.Spec.Replicas != nil {
			desiredReplicas = *deployment.Spec.Replicas
		}
		readyReplicas = deployment.Status.ReadyReplicas
	}

	pods := &corev1.PodList{}
	if err := r.List(ctx, pods,
		client.InNamespace(devServer.Namespace),
		client.MatchingLabels(resources.SelectorLabels(devServer))); err != nil {
		return err
	}
	podNames := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		podNames = append(podNames, pod.Name)
	}
	devServer.Status.PodNames = podNames

	if devServer.Spec.EnableSSH {
		devServer.Status.ServiceName = resources.SSHServiceName(devServer)
		devServer.Status.SSHEndpoint = resources.SSHEndpoint(devServer)
	} else {
		devServer.Status.ServiceName = ""
		devServer.Status.SSHEndpoint = ""
	}

	wasReady := devServer.Status.Ready
	ready := desiredReplicas > 0 && readyReplicas == desiredReplicas && len(podNames) > 0
	if ready {
		devServer.Status.Phase = devserversv1.PhaseRunning
		devServer.Status.Ready = true
		if devServer.Status.StartTime == nil {
			now := metav1.NewTime(r.Clock.Now())
			devServer.Status.StartTime = &now
		}
		meta.SetStatusCondition(&devServer.Status.Conditions, metav1.Condition{
			Type:    devserversv1.ConditionReady,
			Status:  metav1.ConditionTrue,
			Reason:  devserversv1.ReasonWorkloadReady,
			Message: "all replicas are ready",
		})
		if !wasReady {
			r.Recorder.Event(devServer, corev1.EventTypeNormal, EventReady, "DevServer is ready")
		}
	} else {
		devServer.Status.Phase = devserversv1.PhasePending
		devServer.Status.Ready = false
		meta.SetStatusCondition(&devServer.Status.Conditions, metav1.Condition{
			Type:    devserversv1.ConditionReady,
			Status:  metav1.ConditionFalse,
			Reason:  devserversv1.ReasonWorkloadNotReady,
			Message: "waiting for replicas to become ready",
		})
	}

	if degraded != nil {
		r.setDegraded(ctx, devServer, degraded)
	} else {
		meta.RemoveStatusCondition(&devServer.Status.Conditions, devserversv1.ConditionDegraded)
	}

	devServer.Status.ObservedGeneration = devServer.Generation
	return r.updateStatus(ctx, devServer)
}

// updateStatus writes status, retrying a bounded number of times on
// resource-version conflicts.
func (r *DevServerReconciler) updateStatus(ctx context.Context, devServer *devserversv1.DevServer) error {
	status := devServer.Status
	for attempt := 0; ; attempt++ {
		err := r.Status().Update(ctx, devServer)
		if err == nil || !apierrors.IsConflict(err) || attempt >= statusUpdateRetries {
			return client.IgnoreNotFound(err)
		}
		fresh := &devserversv1.DevServer{}
		if err := r.Get(ctx, client.ObjectKeyFromObject(devServer), fresh); err != nil {
			return client.IgnoreNotFound(err)
		}
		fresh.Status = status
		*devServer = *fresh
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *DevServerReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if r.Clock == nil {
		r.Clock = clock.RealClock{}
	}
	if r.DefaultRequeue == 0 {
		r.DefaultRequeue = 30 * time.Minute
	}
	workers := r.WorkerCount
	if workers == 0 {
		workers = 4
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&devserversv1.DevServer{}).
		Owns(&appsv1.Deployment{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&corev1.Secret{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: workers}).
		Named("devserver").
		Complete(r)
}
