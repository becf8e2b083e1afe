package replay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PriceFixture 回放价格点
type PriceFixture struct {
	Symbol string    `yaml:"symbol"`
	Price  float64   `yaml:"price"`
	At     time.Time `yaml:"at"`
}

// SignalFixture 回放信号
type SignalFixture struct {
	Text   string    `yaml:"text"`
	Source string    `yaml:"source"`
	At     time.Time `yaml:"at"`
}

// Fixture 命名的回放输入：价格序列 + 信号列表
type Fixture struct {
	Name    string          `yaml:"name"`
	Prices  []PriceFixture  `yaml:"prices"`
	Signals []SignalFixture `yaml:"signals"`
}

// LoadFixture 从YAML文件加载回放输入
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取回放文件失败: %w", err)
	}

	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("解析回放文件失败: %w", err)
	}
	if err := fixture.Validate(); err != nil {
		return nil, err
	}
	return &fixture, nil
}

// Validate 校验回放输入
// 同一交易对的价格点必须按时间非递减排列
func (f *Fixture) Validate() error {
	if len(f.Prices) == 0 {
		return fmt.Errorf("回放 %s 没有价格序列", f.Name)
	}
	last := make(map[string]time.Time)
	for i, p := range f.Prices {
		if p.Symbol == "" || p.Price <= 0 {
			return fmt.Errorf("回放 %s 第%d个价格点无效", f.Name, i)
		}
		if prev, ok := last[p.Symbol]; ok && p.At.Before(prev) {
			return fmt.Errorf("回放 %s 交易对 %s 的价格时间戳在第%d个点回退", f.Name, p.Symbol, i)
		}
		last[p.Symbol] = p.At
	}
	return nil
}
