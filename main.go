// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("warehousepos - Offline-first POS Synchronization")
	fmt.Println("================================================")
	fmt.Println()
	fmt.Println("Terminals record sales into a local SQLite database and replay them to the")
	fmt.Println("store server exactly once, in per-record order, whenever it is reachable.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println("  posqlite/  terminal engine: local store, sync queue, worker, reconciler")
	fmt.Println("  posync/    canonical store on PostgreSQL with an idempotent apply API")
	fmt.Println()

	fmt.Println("Examples:")
	fmt.Println()
	fmt.Println("1. Store server (examples/pos_server/)")
	fmt.Println("   POST /pos/apply with JWT terminal auth and an idempotency gate")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/pos_server")
	fmt.Println()
	fmt.Println("2. Terminal CLI (examples/pos_terminal/)")
	fmt.Println("   Record sales offline, inspect the queue, run the sync worker")
	fmt.Println("   Run: go run ./examples/pos_terminal sale --tenant t1 --store s1 --item p-1:2:30")
	fmt.Println("        go run ./examples/pos_terminal run --tenant t1 --store s1 --server http://localhost:8080 --token <jwt>")
	fmt.Println()
}
