// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command deepresearch is the CLI for the deep-research session runtime.
//
// Usage:
//
//	deepresearch serve
//	deepresearch serve --http-addr :9000 --log-level debug
//	deepresearch version
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface, mirroring the teacher's
// kong-based command tree (cmd/hector/main.go) trimmed to the two
// commands this single-binary service needs.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the research HTTP+SSE server."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd prints the build version, exactly like the teacher's.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("deepresearch version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI{},
		kong.Name("deepresearch"),
		kong.Description("Multi-agent deep-research session runtime."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
