package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
)

// jobFile is the on-disk description of one fetch. JSON files are accepted
// too since YAML is a superset.
//
//	blocks: [19000000, 19000100]   # or range: {from: 19000000, to: 19000100, step: 10}
//	calls:
//	  - target: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
//	    signature: "balanceOf(address)(uint256)"
//	    args: ["0x2F0b23f53734252Bda2277357e97e1517d6B042A"]
//	    labels: [weth_balance]
//	    handlers: ["scale:18"]
type jobFile struct {
	Blocks []int64     `yaml:"blocks"`
	Range  *blockRange `yaml:"range"`
	Latest bool        `yaml:"latest"`
	Calls  []callEntry `yaml:"calls"`
}

type blockRange struct {
	From int64 `yaml:"from"`
	To   int64 `yaml:"to"`
	Step int64 `yaml:"step"`
}

type callEntry struct {
	Target    string   `yaml:"target"`
	Signature string   `yaml:"signature"`
	Args      []jobArg `yaml:"args"`
	Labels    []string `yaml:"labels"`
	Handlers  []string `yaml:"handlers"`
}

// jobArg is one call argument. Integer literals become *big.Int so values
// beyond 64 bits keep every digit.
type jobArg struct {
	value any
}

func (a *jobArg) UnmarshalYAML(node *yaml.Node) error {
	v, err := argValue(node)
	if err != nil {
		return err
	}
	a.value = v
	return nil
}

func argValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return argValue(node.Alias)
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!int", "!!float":
			if x, ok := new(big.Int).SetString(node.Value, 0); ok {
				return x, nil
			}
		}
	case yaml.SequenceNode:
		list := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := argValue(child)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	}

	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// job is a validated jobFile.
type job struct {
	calls  []*callspec.CallSpec
	blocks []int64
	latest bool
}

const maxRangeBlocks = 1_000_000

func loadJob(path string) (*job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job file: %w", err)
	}
	defer f.Close()

	var file jobFile
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode job file: %w", err)
	}
	return file.build()
}

func (f jobFile) build() (*job, error) {
	if len(f.Calls) == 0 {
		return nil, errors.New("job has no calls")
	}

	j := &job{latest: f.Latest}
	for i, entry := range f.Calls {
		call, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		j.calls = append(j.calls, call)
	}

	blocks, err := f.blocks()
	if err != nil {
		return nil, err
	}
	switch {
	case j.latest && len(blocks) > 0:
		return nil, errors.New("latest cannot be combined with blocks or range")
	case !j.latest && len(blocks) == 0:
		return nil, errors.New("job needs blocks, a range or latest: true")
	}
	j.blocks = blocks
	return j, nil
}

func (f jobFile) blocks() ([]int64, error) {
	blocks := append([]int64(nil), f.Blocks...)
	if f.Range == nil {
		return blocks, nil
	}

	r := *f.Range
	if r.Step == 0 {
		r.Step = 1
	}
	switch {
	case r.Step < 0:
		return nil, fmt.Errorf("range step must be positive, got %d", r.Step)
	case r.From < 0 || r.To < r.From:
		return nil, fmt.Errorf("invalid range [%d, %d]", r.From, r.To)
	case (r.To-r.From)/r.Step+1 > maxRangeBlocks:
		return nil, fmt.Errorf("range spans more than %d blocks", maxRangeBlocks)
	}
	for b := r.From; b <= r.To; b += r.Step {
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (e callEntry) build() (*callspec.CallSpec, error) {
	handlers := make([]callspec.Handler, 0, len(e.Labels))
	if len(e.Handlers) == 0 {
		for range e.Labels {
			handlers = append(handlers, callspec.Identity())
		}
	}
	for _, name := range e.Handlers {
		h, err := callspec.ParseHandler(name)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.value
	}
	return callspec.New(e.Target, e.Signature, args, e.Labels, handlers)
}
