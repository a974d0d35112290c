package storage

import "time"

type opKind int

const (
	opSetNX opKind = iota
	opZAdd
	opZRemRangeByScore
	opZCard
	opExpire
	opDelete
)

// Op is one command of an atomic batch. Build it with the *Op constructors.
type Op struct {
	kind  opKind
	key   string
	keys  []string
	value string
	score float64
	min   string
	max   string
	ttl   time.Duration
}

// Result holds the outcome of one Op. Bool is set by SetNX and Expire; Int by
// ZAdd, ZRemRangeByScore, ZCard and Delete.
type Result struct {
	Bool bool
	Int  int64
}

// SetNXOp sets key to value with ttl if absent.
func SetNXOp(key, value string, ttl time.Duration) Op {
	return Op{kind: opSetNX, key: key, value: value, ttl: ttl}
}

// ZAddOp adds member with score to the sorted set at key.
func ZAddOp(key string, score float64, member string) Op {
	return Op{kind: opZAdd, key: key, score: score, value: member}
}

// ZRemRangeByScoreOp removes members of key scored within [min, max].
func ZRemRangeByScoreOp(key, min, max string) Op {
	return Op{kind: opZRemRangeByScore, key: key, min: min, max: max}
}

// ZCardOp reads the cardinality of the sorted set at key.
func ZCardOp(key string) Op {
	return Op{kind: opZCard, key: key}
}

// ExpireOp sets the ttl of key.
func ExpireOp(key string, ttl time.Duration) Op {
	return Op{kind: opExpire, key: key, ttl: ttl}
}

// DeleteOp removes keys.
func DeleteOp(keys ...string) Op {
	return Op{kind: opDelete, keys: keys}
}
