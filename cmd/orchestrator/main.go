// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"researchflow/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
