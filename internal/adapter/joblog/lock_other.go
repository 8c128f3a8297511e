//go:build !unix

package joblog

import (
	"hash/fnv"
	"os"
	"sync"
)

// Without flock, appends are serialized per path inside this process only.
var stripes [64]sync.Mutex

func lockFile(f *os.File) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(f.Name()))
	mu := &stripes[h.Sum32()%uint32(len(stripes))]
	mu.Lock()
	return mu.Unlock, nil
}
