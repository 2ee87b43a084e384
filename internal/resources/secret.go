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

	devserversv1 "github.com/seemethere/devserver/api/v1"
)

// HostKeysSecret wraps freshly generated SSH host keys in the secret
// mounted into the DevServer pod. The secret is created once and never
// regenerated; callers must check for an existing secret first.
func HostKeysSecret(ds *devserversv1.DevServer, keys map[string][]byte) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      HostKeysSecretName(ds),
			Namespace: ds.Namespace,
			Labels:    SelectorLabels(ds),
		},
		Type: corev1.SecretTypeOpaque,
		Data: keys,
	}
}
