package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/benchmark"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

func main() {
	var (
		imagesDir  = flag.String("images", "testdata/qr", "directory of images to decode")
		iterations = flag.Int("iterations", 10, "number of iterations per backend and image")
		backends   = flag.String("backends", "native,zxing", "comma separated backends to compare")
		tryHarder  = flag.Bool("try-harder", false, "scan every row for finder patterns")
		outputFile = flag.String("output", "", "output file for CSV results (optional)")
	)
	flag.Parse()

	fmt.Println("qrlens Barcode Backend Benchmark")
	fmt.Println("================================")

	var list []barcode.Backend
	for _, name := range strings.Split(*backends, ",") {
		b, err := barcode.NewBackend(strings.TrimSpace(name), nil)
		if err != nil {
			log.Fatalf("Invalid backend: %v", err)
		}
		list = append(list, b)
	}

	paths := flag.Args()
	if len(paths) == 0 {
		if _, err := os.Stat(*imagesDir); os.IsNotExist(err) {
			log.Fatalf("Images directory not found: %s (run generate-test-data first)", *imagesDir)
		}
		paths = []string{*imagesDir}
	}
	files, err := utils.ExpandImagePaths(paths)
	if err != nil {
		log.Fatalf("Failed to list images: %v", err)
	}

	opts := barcode.DefaultOptions()
	opts.TryHarder = *tryHarder
	cmp := benchmark.NewBackendComparison(opts, list...)
	for _, f := range files {
		cmp.AddImage(f, filepath.Base(f))
	}

	fmt.Printf("Running %d iterations per backend on %d images...\n\n", *iterations, len(files))
	results, err := cmp.Run(context.Background(), *iterations, os.Stdout)
	if err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
	cmp.PrintSummary(os.Stdout)

	if *outputFile != "" {
		if err := saveResultsToFile(*outputFile, results); err != nil {
			log.Printf("Failed to save results to file: %v", err)
		} else {
			fmt.Printf("Results saved to: %s\n", *outputFile)
		}
	}
}

func saveResultsToFile(filename string, results []benchmark.Comparison) error {
	file, err := os.Create(filename) //nolint:gosec // G304: output path chosen by the user
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	_, _ = fmt.Fprintln(file, "image,size,backend,avg_ms,alloc_kb,symbols,error")
	for _, c := range results {
		for name, r := range c.Results {
			errText := ""
			if r.Error != nil {
				errText = r.Error.Error()
			}
			_, _ = fmt.Fprintf(file, "%s,%q,%s,%.3f,%d,%d,%q\n",
				filepath.Base(c.ImagePath), c.ImageSize, name,
				float64(r.Average().Nanoseconds())/1e6, r.TotalAllocKB(), len(c.Texts[name]), errText)
		}
	}
	return nil
}
