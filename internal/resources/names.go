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

// Package resources builds the cluster objects owned by a DevServer. All
// builders are pure: equal inputs produce structurally equal desired
// objects, so reconciles can compare and patch without side effects.
package resources

import (
	"fmt"

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

// Stable, user-visible names of the objects owned by a DevServer.

// HomeClaimName returns the name of the home directory volume claim.
func HomeClaimName(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s-home", ds.Name)
}

// SSHServiceName returns the name of the SSH service.
func SSHServiceName(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s-ssh", ds.Name)
}

// PeersServiceName returns the name of the headless peer-discovery service.
func PeersServiceName(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s-peers", ds.Name)
}

// HostKeysSecretName returns the name of the SSH host-key secret.
func HostKeysSecretName(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s-hostkeys", ds.Name)
}

// ConfigMapName returns the name of the peer-discovery config map.
func ConfigMapName(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s-config", ds.Name)
}

// SSHEndpoint returns the host:port string published in status when SSH is
// enabled and the service exists.
func SSHEndpoint(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s.%s.svc:22", SSHServiceName(ds), ds.Namespace)
}

// MasterAddr returns the DNS name of the rank-0 pod behind the headless
// service, used as the rendezvous address in distributed mode.
func MasterAddr(ds *devserversv1.DevServer) string {
	return fmt.Sprintf("%s-0.%s.%s.svc", ds.Name, PeersServiceName(ds), ds.Namespace)
}

// SelectorLabels returns the label set shared by the workload selector, the
// pod template and the services.
func SelectorLabels(ds *devserversv1.DevServer) map[string]string {
	return map[string]string{
		"app":       "devserver",
		"devserver": ds.Name,
	}
}
