package config_test

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonwraymond/modelops/config"
)

func ExampleLoad() {
	dir, _ := os.MkdirTemp("", "modelops-config")
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "modelops.yaml")
	_ = os.WriteFile(path, []byte("cache:\n  max_items: 64\nbatch:\n  batch_time_window: 25ms\n"), 0o600)

	s, err := config.Load(path)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(s.Cache.MaxItems, s.Batch.BatchTimeWindow, s.Batch.MaxBatchSize)
	// Output:
	// 64 25ms 10
}
