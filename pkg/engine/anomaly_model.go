package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"PriceKeeper/pkg/apperr"
)

// ErrModelNotFound 存储中没有模型
var ErrModelNotFound = errors.New("模型不存在")

// StandardScaler 特征标准化参数（总体标准差）
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func fitScaler(rows [][]float64) (StandardScaler, error) {
	if len(rows) == 0 {
		return StandardScaler{}, apperr.Model("没有样本")
	}
	dims := len(rows[0])
	mean := make([]float64, dims)
	for _, r := range rows {
		if len(r) != dims {
			return StandardScaler{}, apperr.Model("特征维度不一致")
		}
		for j, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return StandardScaler{}, apperr.Model("特征包含非法数值")
			}
			mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}
	scale := make([]float64, dims)
	for _, r := range rows {
		for j, v := range r {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return StandardScaler{Mean: mean, Scale: scale}, nil
}

// Transform 标准化单个特征向量
func (s StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, apperr.Model("特征维度 %d 与标准化参数 %d 不符", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

// AnomalyModel 训练好的异常检测模型及其标准化参数
type AnomalyModel struct {
	Scaler    StandardScaler   `json:"scaler"`
	Forest    *IsolationForest `json:"forest"`
	TrainedAt time.Time        `json:"trained_at"`
	Samples   int              `json:"samples"`
}

// TrainAnomalyModel 在原始特征上拟合标准化参数和隔离森林
func TrainAnomalyModel(rows [][]float64, trees int, seed int64) (*AnomalyModel, error) {
	scaler, err := fitScaler(rows)
	if err != nil {
		return nil, err
	}
	scaled := make([][]float64, len(rows))
	for i, r := range rows {
		if scaled[i], err = scaler.Transform(r); err != nil {
			return nil, err
		}
	}
	forest, err := fitIsolationForest(scaled, trees, seed)
	if err != nil {
		return nil, err
	}
	return &AnomalyModel{
		Scaler:    scaler,
		Forest:    forest,
		TrainedAt: time.Now().UTC(),
		Samples:   len(rows),
	}, nil
}

// Classify 返回每个样本是否离群
func (m *AnomalyModel) Classify(rows [][]float64) ([]bool, error) {
	if m == nil || m.Forest == nil {
		return nil, apperr.Model("模型未训练")
	}
	out := make([]bool, len(rows))
	for i, r := range rows {
		x, err := m.Scaler.Transform(r)
		if err != nil {
			return nil, err
		}
		if out[i], err = m.Forest.IsOutlier(x); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Marshal 序列化模型，float64 按最短表示往返无损
func (m *AnomalyModel) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("序列化模型失败: %w", err)
	}
	return data, nil
}

// UnmarshalAnomalyModel 反序列化并检查结构
func UnmarshalAnomalyModel(data []byte) (*AnomalyModel, error) {
	var m AnomalyModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperr.Model("解析模型失败: %v", err)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return nil, apperr.Model("模型缺少隔离森林")
	}
	if len(m.Scaler.Mean) != m.Forest.Features || len(m.Scaler.Scale) != m.Forest.Features {
		return nil, apperr.Model("标准化参数与模型维度不符")
	}
	return &m, nil
}

// ModelStore 模型持久化
type ModelStore interface {
	SaveModel(data []byte) error
	LoadModel() ([]byte, error)
}

// FileModelStore 以文件保存模型
type FileModelStore struct {
	path string
}

// NewFileModelStore 创建文件模型存储
func NewFileModelStore(path string) *FileModelStore {
	return &FileModelStore{path: path}
}

// SaveModel 先写临时文件再改名，避免读到半个文件
func (s *FileModelStore) SaveModel(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("创建模型目录失败: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入模型文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换模型文件失败: %w", err)
	}
	log.Printf("模型已保存到 %s", s.path)
	return nil
}

// LoadModel 读取模型文件
func (s *FileModelStore) LoadModel() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("读取模型文件失败: %w", err)
	}
	return data, nil
}
