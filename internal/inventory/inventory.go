// Package inventory loads per-host connection options from a YAML file.
package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HostOptions mirrors the SSH client options recognized per host. Values
// are passed through to the SSH layer verbatim.
type HostOptions struct {
	User        string `yaml:"user"`
	Port        int    `yaml:"port"`
	KeyFilename string `yaml:"key_filename"`
	Password    string `yaml:"password"`

	// Sudo prefixes privileged host commands with sudo.
	Sudo bool `yaml:"sudo"`

	// AttachSudo controls privilege elevation for the container-entry
	// commands independently of Sudo. Unset means enabled.
	AttachSudo *bool `yaml:"attach_sudo"`
}

// Inventory maps host names to their connection options.
type Inventory struct {
	Hosts map[string]HostOptions `yaml:"hosts"`
}

// Load parses an inventory file.
//
// Example:
//
//	hosts:
//	  build01:
//	    user: deploy
//	    port: 2222
//	    key_filename: ~/.ssh/id_build
//	    sudo: true
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}

	return &inv, nil
}

// Lookup returns the options for host. A host absent from the inventory
// gets zero options.
func (i *Inventory) Lookup(host string) HostOptions {
	if i == nil || i.Hosts == nil {
		return HostOptions{}
	}
	return i.Hosts[host]
}
