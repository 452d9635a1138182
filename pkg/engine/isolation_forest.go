package engine

import (
	"math"
	"math/rand"

	"PriceKeeper/pkg/apperr"
)

const (
	defaultTrees      = 100
	defaultMaxSamples = 256
	eulerGamma        = 0.5772156649015329
	// contamination="auto": 异常分数超过 0.5 判为离群
	outlierScoreThreshold = 0.5
)

// treeNode 扁平存储的隔离树节点，Left == -1 表示叶子
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"s"`
}

type isolationTree struct {
	Nodes []treeNode `json:"nodes"`
}

// IsolationForest 隔离森林
type IsolationForest struct {
	Trees      []isolationTree `json:"trees"`
	MaxSamples int             `json:"max_samples"`
	Features   int             `json:"features"`
}

// fitIsolationForest 在已标准化的样本上训练
func fitIsolationForest(samples [][]float64, trees int, seed int64) (*IsolationForest, error) {
	if len(samples) < 2 {
		return nil, apperr.Model("样本数 %d 不足以训练隔离森林", len(samples))
	}
	features := len(samples[0])
	for _, s := range samples {
		if len(s) != features {
			return nil, apperr.Model("特征维度不一致: %d != %d", len(s), features)
		}
	}
	if trees <= 0 {
		trees = defaultTrees
	}

	psi := len(samples)
	if psi > defaultMaxSamples {
		psi = defaultMaxSamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	rng := rand.New(rand.NewSource(seed))
	forest := &IsolationForest{
		Trees:      make([]isolationTree, 0, trees),
		MaxSamples: psi,
		Features:   features,
	}
	for i := 0; i < trees; i++ {
		idx := rng.Perm(len(samples))[:psi]
		subset := make([][]float64, psi)
		for j, k := range idx {
			subset[j] = samples[k]
		}
		tree := isolationTree{}
		tree.grow(subset, 0, maxDepth, rng)
		forest.Trees = append(forest.Trees, tree)
	}
	return forest, nil
}

// grow 递归构建节点，返回节点下标
func (t *isolationTree) grow(rows [][]float64, depth, maxDepth int, rng *rand.Rand) int {
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{Left: -1, Right: -1, Size: len(rows)})
	if depth >= maxDepth || len(rows) <= 1 {
		return id
	}

	// 随机顺序寻找一个非常量特征
	dims := len(rows[0])
	for _, f := range rng.Perm(dims) {
		lo, hi := rows[0][f], rows[0][f]
		for _, r := range rows[1:] {
			if r[f] < lo {
				lo = r[f]
			}
			if r[f] > hi {
				hi = r[f]
			}
		}
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, r := range rows {
			if r[f] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		t.Nodes[id].Feature = f
		t.Nodes[id].Threshold = split
		l := t.grow(left, depth+1, maxDepth, rng)
		r := t.grow(right, depth+1, maxDepth, rng)
		t.Nodes[id].Left = l
		t.Nodes[id].Right = r
		return id
	}
	return id
}

func (t *isolationTree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength 二叉搜索树失败查找的平均路径长度 c(n)
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// Score 异常分数，越接近 1 越异常
func (f *IsolationForest) Score(x []float64) (float64, error) {
	if len(x) != f.Features {
		return 0, apperr.Model("特征维度 %d 与模型 %d 不符", len(x), f.Features)
	}
	if len(f.Trees) == 0 {
		return 0, apperr.Model("模型没有树")
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, apperr.Model("特征包含非法数值")
		}
	}
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePathLength(f.MaxSamples)), nil
}

// IsOutlier 分数超过阈值为离群点
func (f *IsolationForest) IsOutlier(x []float64) (bool, error) {
	s, err := f.Score(x)
	if err != nil {
		return false, err
	}
	return s > outlierScoreThreshold, nil
}
