// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command receptor runs one cycle of the receptor runtime until it is
// told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudwego/receptor"
)

var (
	confPath = flag.String("c", "", "configuration file")
	testOnly = flag.Bool("t", false, "test the configuration and exit")
	version  = flag.Bool("v", false, "print the version and exit")
)

func main() {
	flag.Parse()
	if *version {
		fmt.Println(receptor.VersionString())
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "receptor:", err)
		os.Exit(1)
	}
}

func run() error {
	rt, err := receptor.New()
	if err != nil {
		return err
	}
	defer rt.Cleanup()
	log := rt.Logger()

	cc, err := rt.NewConfCtx()
	if err != nil {
		return err
	}
	defer cc.Destroy()
	if *confPath != "" {
		err = cc.Load(*confPath)
	} else {
		err = cc.Parse("")
	}
	if err != nil {
		return err
	}
	if *testOnly {
		fmt.Printf("configuration %q is ok, %d directives\n", *confPath, cc.Entries().Len())
		return nil
	}

	c, err := rt.NewCycle(cc)
	if err != nil {
		return err
	}
	defer c.Destroy()

	signals := map[os.Signal]func(){
		syscall.SIGTERM: c.Terminate,
		syscall.SIGINT:  c.Terminate,
		syscall.SIGQUIT: c.Quit,
		syscall.SIGHUP:  c.RequestReload,
	}
	for sig, fn := range signals {
		fn := fn
		if err = rt.AddSignal(sig, func(os.Signal) { fn() }); err != nil {
			return err
		}
	}

	if err = c.Start(); err != nil {
		return err
	}
	log.Info("receptor running", zap.String("conf", *confPath), zap.Strings("listen", c.StreamAddrs()))
	return c.Run(context.Background())
}
