package main

// Example command that loads MNIST through a CachedDataset and converts a
// small batch into gomlx tensors using the helpers provided in the package.
//
// Samples are transformed lazily: each one is decoded and scaled the first
// time it is read and served from the cache afterwards.
//
// Usage:
//   go run ./datasets/example -data-dir ~/tmp/mnist

import (
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/mnistcluster/datasets"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "directory holding (or receiving) the MNIST files")
	accelerator := flag.Bool("accelerator", false, "keep a tensor per cached sample")
	flag.Parse()

	if err := datasets.Download(*dataDir); err != nil {
		log.Fatalf("failed to download MNIST: %v", err)
	}
	src, err := datasets.NewMNIST(*dataDir, true)
	if err != nil {
		log.Fatalf("failed to open MNIST: %v", err)
	}
	opts := datasets.CachedOptions{}
	if *accelerator {
		opts.Device = datasets.DeviceAccelerator
	}
	ds := datasets.NewCachedDataset(src, opts)
	fmt.Printf("Total MNIST training examples: %d of %d in source (device %s)\n", ds.Len(), ds.Source().Len(), ds.Device())

	n := min(8, ds.Len())
	fmt.Printf("Loading batch of %d examples...\n", n)
	inT, labT, err := ds.Tensors(datasets.Range(n))
	if err != nil {
		log.Fatalf("failed to convert batch to gomlx tensors: %v", err)
	}
	fmt.Printf("  Input shape: %s\n", inT.Shape())
	fmt.Printf("  Label shape: %s\n", labT.Shape())
	fmt.Printf("  Labels: %v\n", labT.Value())
	fmt.Printf("  Cached samples after one batch: %d\n", ds.Filled())

	// A second read is served from the cache.
	first, _ := ds.Get(0)
	again, _ := ds.Get(0)
	fmt.Printf("  Same sample pointer on re-read: %v\n", first == again)
	if first.Tensor != nil {
		fmt.Printf("  Sample tensor: %s\n", first.Tensor.Shape())
	}
	fmt.Println("\nExample completed successfully!")
}
