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
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

// SSHService returns the cluster-internal service exposing port 22 of the
// DevServer workload.
func SSHService(ds *devserversv1.DevServer) *corev1.Service {
	labels := SelectorLabels(ds)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      SSHServiceName(ds),
			Namespace: ds.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{
					Name:       "ssh",
					Port:       22,
					TargetPort: intstr.FromInt32(22),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

// PeersService returns the headless service used for DNS-based peer
// discovery in distributed mode. Replica pods are addressable as
// <name>-<ordinal>.<name>-peers.<namespace>.svc.
func PeersService(ds *devserversv1.DevServer) *corev1.Service {
	labels := SelectorLabels(ds)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PeersServiceName(ds),
			Namespace: ds.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  labels,
			Ports: []corev1.ServicePort{
				{
					Name:       "ssh",
					Port:       22,
					TargetPort: intstr.FromInt32(22),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}
