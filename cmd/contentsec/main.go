// Command contentsec hosts the content-inspection and policy-enforcement
// core for the privileged network service: SecurityTap, Quarantine,
// TrafficMonitor, and PolicyGraph, wired together behind a thin cobra CLI.
package main

import "github.com/ladybird/contentsec/cmd/contentsec/cmd"

func main() {
	cmd.Execute()
}
