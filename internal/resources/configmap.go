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
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

// PeerDiscoveryConfigMap returns the config map holding the peer-discovery
// hints for distributed mode. Tooling inside the pods reads this instead of
// re-deriving DNS names.
func PeerDiscoveryConfigMap(ds *devserversv1.DevServer) *corev1.ConfigMap {
	cfg := ds.Spec.Distributed
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(ds),
			Namespace: ds.Namespace,
			Labels:    SelectorLabels(ds),
		},
		Data: map[string]string{
			"MASTER_ADDR":    MasterAddr(ds),
			"MASTER_PORT":    strconv.Itoa(masterPort),
			"WORLD_SIZE":     strconv.Itoa(int(cfg.WorldSize)),
			"NPROC_PER_NODE": strconv.Itoa(int(cfg.NProcsPerNode)),
			"BACKEND":        cfg.Backend,
			"PEER_SERVICE":   PeersServiceName(ds),
		},
	}
}
