package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ugKV/cmd/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for ugKV servers",
		Long:    "Runs set, get and delete benchmarks against a server and reports throughput and latency percentiles",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// percentiles reported for every benchmark
var perfPercentiles = []float64{0.5, 0.95, 0.99}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// perfResult combines the throughput measured by the testing package with
// the latency distribution recorded by a timer
type perfResult struct {
	bench testing.BenchmarkResult
	timer gometrics.Timer
}

// perfCase is one benchmark. setup runs before the timer starts and returns
// the operation executed in the loop.
type perfCase struct {
	name  string
	setup func() (op func(i int) error, cleanup func())
}

func run(_ *cobra.Command, _ []string) error {
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for ugKV servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}

	cases := []perfCase{
		{"set", func() (func(int) error, func()) {
			key, iter := getKeys("set")
			return func(i int) error {
				_, err := kvClient.Set(key(i), []byte("test"))
				return err
			}, func() { iter(deleteKey) }
		}},
		{"set-large", func() (func(int) error, func()) {
			key, iter := getKeys("set-large")
			return func(i int) error {
				_, err := kvClient.Set(key(i), largeValue)
				return err
			}, func() { iter(deleteKey) }
		}},
		{"get", func() (func(int) error, func()) {
			key, iter := getKeys("get")
			iter(func(k []byte) {
				if _, err := kvClient.Set(k, []byte("test")); err != nil {
					log.Printf("(get) - error setting key: %v\n", err)
				}
			})
			return func(i int) error {
				_, _, err := kvClient.Get(key(i))
				return err
			}, func() { iter(deleteKey) }
		}},
		{"get-missing", func() (func(int) error, func()) {
			key, _ := getKeys("get-missing")
			return func(i int) error {
				_, _, err := kvClient.Get(key(i))
				return err
			}, func() {}
		}},
		{"delete", func() (func(int) error, func()) {
			key, _ := getKeys("delete")
			return func(i int) error {
				_, err := kvClient.Delete(key(i))
				return err
			}, func() {}
		}},
		{"mixed", func() (func(int) error, func()) {
			key, iter := getKeys("mixed")
			return func(i int) error {
				var err error
				switch i % 3 {
				case 0:
					_, err = kvClient.Set(key(i), []byte("test"))
				case 1:
					_, _, err = kvClient.Get(key(i))
				case 2:
					_, err = kvClient.Delete(key(i))
				}
				return err
			}, func() { iter(deleteKey) }
		}},
	}

	results := make(map[string]perfResult)
	for _, c := range cases {
		if shouldSkip(c.name) {
			printResult(c.name, perfResult{})
			continue
		}
		result := runCase(c)
		results[c.name] = result
		printResult(c.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config.Endpoint, string(config.Transport)); err != nil {
			return fmt.Errorf("failed to export results to CSV: %w", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runCase runs one benchmark and records the latency of every operation
func runCase(c perfCase) perfResult {
	timer := gometrics.NewTimer()

	bench := testing.Benchmark(func(b *testing.B) {
		op, cleanup := c.setup()
		b.Cleanup(cleanup)

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := op(counter); err != nil {
					log.Printf("(%s) - error: %v\n", c.name, err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	return perfResult{bench: bench, timer: timer}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

func deleteKey(k []byte) {
	if _, err := kvClient.Delete(k); err != nil {
		log.Printf("error deleting key %s: %v\n", k, err)
	}
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) []byte, func(func([]byte))) {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) []byte {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func([]byte)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.timer == nil || result.bench.NsPerOp() == 0 {
		fmt.Printf("%-14sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	ps := result.timer.Percentiles(perfPercentiles)
	fmt.Printf("%-14s%10.0f ops/sec\tp50 %-10s p95 %-10s p99 %-10s (%d ops)\n",
		test, opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]),
		result.timer.Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, endpoint, transport string) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "Ops",
		"Endpoint", "Transport", "Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	// stable output order
	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	for _, test := range tests {
		result := results[test]
		nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
		ps := result.timer.Percentiles(perfPercentiles)

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", result.timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(result.timer.Count(), 10),
			endpoint,
			transport,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %w", test, err)
		}
	}

	return nil
}
