// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package peer defines the identity tuple exchanged between cluster nodes.
package peer

import "fmt"

// Descriptor identifies a cluster node. Equality and hashing are by Name
// alone; Address and Port are informational and only used to dial a
// connection.
type Descriptor struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Equal reports whether two descriptors name the same peer.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Name == other.Name
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s:%d)", d.Name, d.Address, d.Port)
}
