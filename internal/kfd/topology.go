package kfd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const TopologyRoot = "/sys/devices/virtual/kfd/kfd/topology/nodes"

var ErrNodeNotFound = errors.New("kfd topology node not found")

// Node is one entry of the KFD topology.
type Node struct {
	Index      int
	GpuID      uint32
	LocationID uint32
	Properties map[string]uint64
}

// Topology is the set of KFD nodes, CPU nodes included (gpu_id 0).
type Topology struct {
	Nodes []Node
}

func ReadTopology(root string) (*Topology, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	t := &Topology{}
	for _, e := range entries {
		idx, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		props, err := readProperties(filepath.Join(root, e.Name(), "properties"))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", idx, err)
		}
		gpuID, err := readUint(filepath.Join(root, e.Name(), "gpu_id"))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", idx, err)
		}
		t.Nodes = append(t.Nodes, Node{
			Index:      idx,
			GpuID:      uint32(gpuID),
			LocationID: uint32(props["location_id"]),
			Properties: props,
		})
	}
	sort.Slice(t.Nodes, func(i, j int) bool { return t.Nodes[i].Index < t.Nodes[j].Index })
	return t, nil
}

// GpuIDByLocation maps a PCI location id to the driver's gpu id.
func (t *Topology) GpuIDByLocation(location uint32) (uint32, error) {
	for _, n := range t.Nodes {
		if n.GpuID != 0 && n.LocationID == location {
			return n.GpuID, nil
		}
	}
	return 0, fmt.Errorf("%w: location_id %d", ErrNodeNotFound, location)
}

func (t *Topology) GPUs() []Node {
	var gpus []Node
	for _, n := range t.Nodes {
		if n.GpuID != 0 {
			gpus = append(gpus, n)
		}
	}
	return gpus
}

func readProperties(path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		props[fields[0]] = v
	}
	return props, sc.Err()
}

func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}
