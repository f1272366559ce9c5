package config_test

import (
	"fmt"

	"github.com/ajitpratap0/syncpool/pkg/config"
)

// ExampleParse decodes a pool list and checks it against the sizing rules.
func ExampleParse() {
	cfg, err := config.Parse([]byte(`
pools:
  - name: buffers
    limit: 1024
    alloc_block: 64
  - name: builders
    alloc_block: 16
`))
	if err != nil {
		fmt.Println(err)
		return
	}

	warnings, err := cfg.Validate()
	fmt.Println("valid:", err == nil, "warnings:", len(warnings))

	p, _ := cfg.Pool("builders")
	fmt.Println(p.ToPool().Limit, p.ToPool().AllocBlock)

	// Output:
	// valid: true warnings: 0
	// -1 16
}

// ExampleConfig_Validate shows the warning for a limit that is not a block multiple.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Pools = []config.PoolConfig{{Name: "odd", Limit: 200, AllocBlock: 64}}

	warnings, err := cfg.Validate()
	fmt.Println(err)
	for _, w := range warnings {
		fmt.Println(w)
	}

	// Output:
	// <nil>
	// odd: allocation limit (200) is not a multiple of allocation block size (64)
}
