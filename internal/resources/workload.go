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
	"sort"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

const (
	homeMountPath     = "/home/dev"
	sharedMountPath   = "/shared"
	hostKeysMountPath = "/etc/ssh/hostkeys"

	masterPort = 29500

	// Label set by the StatefulSet controller carrying the pod ordinal;
	// used to derive RANK without a startup script.
	podIndexLabel = "apps.kubernetes.io/pod-index"
)

// Deployment returns the desired stateless workload for a standalone
// DevServer: one replica running the configured image with the home claim
// mounted and flavor resources, node selector and tolerations applied.
func Deployment(ds *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor) *appsv1.Deployment {
	labels := SelectorLabels(ds)
	podSpec := basePodSpec(ds, flavor)

	podSpec.Volumes = append(podSpec.Volumes, corev1.Volume{
		Name: "home",
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: HomeClaimName(ds),
			},
		},
	})

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ds.Name,
			Namespace: ds.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}
}

// StatefulSet returns the desired ordered workload for a distributed
// DevServer: worldSize replicas, a per-replica home claim template and the
// rendezvous environment expected by torch.distributed.
func StatefulSet(ds *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor) *appsv1.StatefulSet {
	labels := SelectorLabels(ds)
	podSpec := basePodSpec(ds, flavor)
	podSpec.Containers[0].Env = append(podSpec.Containers[0].Env, distributedEnv(ds)...)

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ds.Name,
			Namespace: ds.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:            ptr.To(ds.Spec.Distributed.WorldSize),
			ServiceName:         PeersServiceName(ds),
			PodManagementPolicy: appsv1.OrderedReadyPodManagement,
			Selector:            &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				{
					ObjectMeta: metav1.ObjectMeta{Name: "home"},
					Spec: corev1.PersistentVolumeClaimSpec{
						AccessModes: []corev1.PersistentVolumeAccessMode{
							corev1.ReadWriteOnce,
						},
						Resources: corev1.VolumeResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceStorage: ds.Spec.PersistentHomeSize,
							},
						},
					},
				},
			},
		},
	}
}

// basePodSpec builds the pod shape shared by both modes: the devserver
// container with flavor resources, the home mount and the optional shared
// and host-key mounts.
func basePodSpec(ds *devserversv1.DevServer, flavor *devserversv1.DevServerFlavor) corev1.PodSpec {
	container := corev1.Container{
		Name:    "devserver",
		Image:   ds.Spec.Image,
		Command: []string{"sleep"},
		Args:    []string{"infinity"},
		Resources: corev1.ResourceRequirements{
			Requests: flavor.Spec.Resources.Requests,
			Limits:   flavor.Spec.Resources.Limits,
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "home", MountPath: homeMountPath},
		},
		Env: []corev1.EnvVar{
			{Name: "DEVSERVER_OWNER", Value: ds.Spec.Owner},
			{Name: "DEVSERVER_MODE", Value: ds.Spec.Mode},
		},
	}

	spec := corev1.PodSpec{
		NodeSelector: flavor.Spec.NodeSelector,
		Tolerations:  flavor.Spec.Tolerations,
	}

	if ds.Spec.SSH != nil && ds.Spec.SSH.PublicKey != "" {
		container.Env = append(container.Env, corev1.EnvVar{
			Name:  "SSH_PUBLIC_KEY",
			Value: ds.Spec.SSH.PublicKey,
		})
	}

	if ds.Spec.EnableSSH {
		container.Ports = []corev1.ContainerPort{
			{Name: "ssh", ContainerPort: 22, Protocol: corev1.ProtocolTCP},
		}
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      "host-keys",
			MountPath: hostKeysMountPath,
			ReadOnly:  true,
		})
		spec.Volumes = append(spec.Volumes, corev1.Volume{
			Name: "host-keys",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{
					SecretName:  HostKeysSecretName(ds),
					DefaultMode: ptr.To(int32(0o400)),
				},
			},
		})
	}

	if ds.Spec.SharedVolumeClaimName != "" {
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      "shared",
			MountPath: sharedMountPath,
		})
		spec.Volumes = append(spec.Volumes, corev1.Volume{
			Name: "shared",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: ds.Spec.SharedVolumeClaimName,
				},
			},
		})
	}

	spec.Containers = []corev1.Container{container}
	return spec
}

// distributedEnv returns the rendezvous environment for distributed mode.
// RANK comes from the pod-index label the StatefulSet controller stamps on
// every replica. NCCL settings are appended in key order so the result is
// deterministic.
func distributedEnv(ds *devserversv1.DevServer) []corev1.EnvVar {
	cfg := ds.Spec.Distributed
	env := []corev1.EnvVar{
		{
			Name: "RANK",
			ValueFrom: &corev1.EnvVarSource{
				FieldRef: &corev1.ObjectFieldSelector{
					FieldPath: fmt.Sprintf("metadata.labels['%s']", podIndexLabel),
				},
			},
		},
		{Name: "WORLD_SIZE", Value: strconv.Itoa(int(cfg.WorldSize))},
		{Name: "MASTER_ADDR", Value: MasterAddr(ds)},
		{Name: "MASTER_PORT", Value: strconv.Itoa(masterPort)},
		{Name: "NPROC_PER_NODE", Value: strconv.Itoa(int(cfg.NProcsPerNode))},
		{Name: "DISTRIBUTED_BACKEND", Value: cfg.Backend},
	}

	keys := make([]string, 0, len(cfg.NCCLSettings))
	for k := range cfg.NCCLSettings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: cfg.NCCLSettings[k]})
	}
	return env
}
