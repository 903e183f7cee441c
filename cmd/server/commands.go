// Copyright 2023 LiveKit, Inc.
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

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/config"
	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/replay"
)

var errScenariosFailed = errors.New("one or more scenarios did not match their expectations")

func replayScenario(c *cli.Context) error {
	runner := replay.NewRunner(logger.GetLogger())

	results := make([]*replay.Result, 0)
	for _, path := range c.StringSlice("scenario") {
		data, err := config.LoadScenarioFile(path)
		if err != nil {
			return err
		}
		scenario, err := replay.ParseScenario(data)
		if err != nil {
			return errors.Wrap(err, path)
		}
		result, err := runner.Run(scenario)
		if err != nil {
			return errors.Wrap(err, path)
		}
		results = append(results, result)

		if c.Bool("verbose") {
			printRequests(os.Stdout, result)
		}
	}

	passed := printResults(os.Stdout, results)
	fmt.Printf("%d of %d scenarios passed\n", passed, len(results))
	if passed != len(results) {
		return errScenariosFailed
	}
	return nil
}

func printRequests(w io.Writer, result *replay.Result) {
	fmt.Fprintf(w, "%s\n", result.Name)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Step", "Event", "Track", "Dimension"})
	for _, req := range result.Requests {
		table.Append([]string{
			humanize.Comma(int64(req.Step)),
			req.Event,
			req.Ref.String(),
			types.FormatDimension(req.Dimension),
		})
	}
	table.Render()
}

func printResults(w io.Writer, results []*replay.Result) int {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Scenario", "Events", "Requests", "Elapsed", "Result"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	passed := 0
	for _, result := range results {
		status := "ok"
		if result.Passed() {
			passed++
		} else {
			status = strings.Join(result.Mismatches, "\n")
		}
		table.Append([]string{
			result.Name,
			humanize.Comma(int64(result.Events)),
			humanize.Comma(int64(len(result.Requests))),
			result.Elapsed.String(),
			status,
		})
	}
	table.Render()
	return passed
}

func printPorts(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	fmt.Println("TCP Ports")
	fmt.Printf("%d - HTTP service (/host, /healthz)\n", conf.Port)
	if conf.PrometheusPort != 0 {
		fmt.Printf("%d - Prometheus metrics\n", conf.PrometheusPort)
	} else {
		fmt.Printf("%d - Prometheus metrics (/metrics)\n", conf.Port)
	}
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
