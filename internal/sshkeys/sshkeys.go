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

// Package sshkeys generates SSH host key pairs for DevServer pods. The key
// material ends up in a per-DevServer secret that is created exactly once
// and never regenerated.
package sshkeys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

const rsaKeyBits = 3072

// GenerateHostKeys produces one host key pair per supported algorithm
// (rsa, ecdsa, ed25519). The returned map uses the conventional sshd file
// names: ssh_host_<type>_key for the PEM-encoded private key and
// ssh_host_<type>_key.pub for the authorized-keys form of the public key.
func GenerateHostKeys() (map[string][]byte, error) {
	keys := map[string][]byte{}

	rsaKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generating rsa host key")
	}
	if err := addKeyPair(keys, "rsa", rsaKey, rsaKey.Public()); err != nil {
		return nil, err
	}

	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating ecdsa host key")
	}
	if err := addKeyPair(keys, "ecdsa", ecdsaKey, ecdsaKey.Public()); err != nil {
		return nil, err
	}

	_, ed25519Key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating ed25519 host key")
	}
	if err := addKeyPair(keys, "ed25519", ed25519Key, ed25519Key.Public()); err != nil {
		return nil, err
	}

	return keys, nil
}

func addKeyPair(keys map[string][]byte, keyType string, private crypto.PrivateKey, public crypto.PublicKey) error {
	block, err := ssh.MarshalPrivateKey(private, "")
	if err != nil {
		return errors.Wrapf(err, "marshalling %s private key", keyType)
	}

	sshPub, err := ssh.NewPublicKey(public)
	if err != nil {
		return errors.Wrapf(err, "converting %s public key", keyType)
	}

	keys["ssh_host_"+keyType+"_key"] = pem.EncodeToMemory(block)
	keys["ssh_host_"+keyType+"_key.pub"] = ssh.MarshalAuthorizedKey(sshPub)
	return nil
}
