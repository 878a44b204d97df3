package flinkdeployment

import (
	"errors"
	"hash/fnv"
	"regexp"
	"strconv"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
)

const bigPrime = 31393

var (
	podNameRegex = regexp.MustCompile("(.*-)([0-9]+)$")
)

// Sharder splits FlinkDeployments between operator replicas. The replicas run
// as a statefulset, the pod ordinal is the shard.
type Sharder struct {
	TotalShards int // Total number of shards
	Shard       int // Shard ordinal for this instance
}

func getResource(namespace, name string) string {
	return namespace + "/" + name
}

func (s *Sharder) IsOwnedByMe(namespace, name string) bool {
	return s.GetShard(namespace, name) == s.Shard
}

func (s *Sharder) GetShard(namespace, name string) int {
	resource := getResource(namespace, name)
	h := fnv1aHash(resource)
	indx := (uint64(h) * bigPrime) % uint64(s.TotalShards)
	return int(indx)
}

// Predicate filters out the events of deployments owned by other shards.
func (s *Sharder) Predicate() predicate.Predicate {
	return predicate.NewPredicateFuncs(func(object client.Object) bool {
		return s.IsOwnedByMe(object.GetNamespace(), object.GetName())
	})
}

func fnv1aHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func getShardFromPod(podName string) (int, error) {
	m := podNameRegex.FindStringSubmatch(podName)
	if m == nil || len(m) != 3 {
		return 0, errors.New("pod-name is not in the expected format")
	}
	shard, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, err
	}
	return shard, nil
}

// NewSharderFromPod returns the sharder of the operator pod. Sharding is
// disabled when totalShards or podName is unset.
func NewSharderFromPod(totalShards int, podName string) (*Sharder, error) {
	if totalShards <= 1 || podName == "" {
		return NewSharder(1, 0), nil
	}
	// Extract index from statefulset pod name
	shard, err := getShardFromPod(podName)
	if err != nil {
		return nil, err
	}
	if shard >= totalShards {
		return nil, errors.New("pod ordinal is out of the shard range")
	}
	return NewSharder(totalShards, shard), nil
}

func NewSharder(totalShards, shard int) *Sharder {
	return &Sharder{
		TotalShards: totalShards,
		Shard:       shard,
	}
}
