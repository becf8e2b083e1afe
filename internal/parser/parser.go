package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/signalbot/internal/model"
)

// ErrNotASignal 消息提到交易关键词但不构成信号，静默忽略而非报错
var ErrNotASignal = errors.New("消息不是交易信号")

// ParseError 信号格式错误
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("信号解析失败: %s", e.Reason)
}

// 多种信号版式，按顺序依次尝试
// 版式来源于实际接入的信号频道消息样本
var signalPatterns = []*regexp.Regexp{
	// 版式1: SYMBOL Side 开头，字段分行（SMRT 格式），容忍表情和连字符装饰
	regexp.MustCompile(`(?is)(?P<symbol>[A-Z]+USD[T]?)\s*[-–]?\s*(?P<side>Buy|Sell|Long|Short)(?:\s*\n|\s+)` +
		`(?:.*?\n)*?(?:Entry|Entry Price):\s*\$?(?P<entry>[\d,.]+)(?:\s*\n|\s+)` +
		`(?:.*?\n)*?(?:TP|Take Profit|Target):\s*\$?(?P<tp>[\d,.]+)(?:\s*\n|\s+)` +
		`(?:.*?\n)*?(?:SL|Stop Loss|Stoploss):\s*\$?(?P<sl>[\d,.]+)`),

	// 版式2: Side SYMBOL 开头，标准分行
	regexp.MustCompile(`(?im)(?P<side>Buy|Sell|Long|Short)\s+[\$]?(?P<symbol>[A-Za-z]+)\s*\n` +
		`\s*(?:Entry Price|Entry):\s*\$?(?P<entry>[\d,.]+)\s*\n` +
		`\s*(?:Take Profit|Target|TP):\s*\$?(?P<tp>[\d,.]+)\s*\n` +
		`\s*(?:Stop Loss|Stoploss|SL):\s*\$?(?P<sl>[\d,.]+)`),

	// 版式3: 单行紧凑格式，竖线分隔
	regexp.MustCompile(`(?i)(?P<side>Buy|Sell|Long|Short)\s+[\$]?(?P<symbol>\w+)\s*@\s*\$?(?P<entry>[\d,.]+)\s*\|\s*TP:\s*\$?(?P<tp>[\d,.]+)\s*\|\s*SL:\s*\$?(?P<sl>[\d,.]+)`),

	// 版式4: Signal:/Direction: 标签版式，带表情符号装饰也能匹配
	regexp.MustCompile(`(?is)Signal:\s*(?P<symbol>[A-Za-z$]+)\s*\n` +
		`\s*Direction:\s*(?P<side>Buy|Sell|Long|Short)\s*\n` +
		`(?:.*?\n)*?\s*(?:Entry Price|Entry):\s*\$?(?P<entry>[\d,.]+)\s*\n` +
		`(?:.*?\n)*?\s*(?:Take Profit|Target|TP):\s*\$?(?P<tp>[\d,.]+)\s*\n` +
		`(?:.*?\n)*?\s*(?:Stop Loss|Stoploss|SL):\s*\$?(?P<sl>[\d,.]+)`),

	// 版式5: 标准分行但止损写在止盈之前
	// 必须排在仅止损版式之前，否则显式止盈会被吞掉
	regexp.MustCompile(`(?im)(?P<side>Buy|Sell|Long|Short)\s+[\$]?(?P<symbol>[A-Za-z]+)\s*\n` +
		`\s*(?:Entry Price|Entry):\s*\$?(?P<entry>[\d,.]+)\s*\n` +
		`\s*(?:Stop Loss|Stoploss|SL):\s*\$?(?P<sl>[\d,.]+)\s*\n` +
		`(?:.*\n)*?\s*(?:Take Profit|Target|TP):\s*\$?(?P<tp>[\d,.]+)`),

	// 版式6: 仅入场价和止损，止盈由默认档位梯度推导
	regexp.MustCompile(`(?im)(?P<side>Buy|Sell|Long|Short)\s+[\$]?(?P<symbol>[A-Za-z]+)\s*\n` +
		`\s*(?:Entry Price|Entry):\s*\$?(?P<entry>[\d,.]+)\s*\n` +
		`\s*(?:Stop Loss|Stoploss|SL):\s*\$?(?P<sl>[\d,.]+)`),
}

// 仅用于判断消息是否意图为信号（版式损坏时区分 ParseError 与 NotASignal）
var (
	sideKeywordPattern = regexp.MustCompile(`(?i)\b(buy|sell|long|short)\b`)
	entryFieldPattern  = regexp.MustCompile(`(?i)(entry|@\s*[\d,.])`)
	confluencePattern  = regexp.MustCompile(`(?i)confluence[s]?\s*[:=]?\s*(\d+)`)
)

// Parse 将原始文本解析为规范化的交易信号意图，接收时间取当前时刻
func Parse(rawText, sourceLabel string) (*model.SignalIntent, error) {
	return ParseAt(rawText, sourceLabel, time.Now().UTC())
}

// ParseAt 以显式的接收时间解析信号
// 纯函数，不产生任何副作用；回放路径用序列时间戳代替墙钟
func ParseAt(rawText, sourceLabel string, receivedAt time.Time) (*model.SignalIntent, error) {
	message := strings.TrimSpace(rawText)
	if message == "" {
		return nil, ErrNotASignal
	}

	var match []string
	var names []string
	for _, pattern := range signalPatterns {
		if m := pattern.FindStringSubmatch(message); m != nil {
			match = m
			names = pattern.SubexpNames()
			break
		}
	}

	if match == nil {
		// 有方向关键词且带入场字段的消息视为格式错误的信号，否则不是信号
		if sideKeywordPattern.MatchString(message) && entryFieldPattern.MatchString(message) {
			return nil, &ParseError{Reason: "无法识别的信号版式", Raw: rawText}
		}
		return nil, ErrNotASignal
	}

	fields := make(map[string]string)
	for i, name := range names {
		if name != "" && i < len(match) {
			fields[name] = match[i]
		}
	}

	side, err := normalizeSide(fields["side"])
	if err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: rawText}
	}

	symbol := NormalizeSymbol(fields["symbol"])
	if symbol == "" {
		return nil, &ParseError{Reason: "缺少交易对", Raw: rawText}
	}

	entry, err := parsePrice(fields["entry"])
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("入场价格式错误: %v", err), Raw: rawText}
	}

	stopLoss, err := parsePrice(fields["sl"])
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("止损价格式错误: %v", err), Raw: rawText}
	}

	var takeProfit float64
	if tp, ok := fields["tp"]; ok && tp != "" {
		takeProfit, err = parsePrice(tp)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("止盈价格式错误: %v", err), Raw: rawText}
		}
	}

	intent := &model.SignalIntent{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Confluence: parseConfluence(message),
		RawText:    rawText,
		Source:     sourceLabel,
		ReceivedAt: receivedAt,
	}

	if err := validateOrdering(intent); err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: rawText}
	}

	return intent, nil
}

// normalizeSide 统一方向关键词为 LONG/SHORT
func normalizeSide(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return model.SideLong, nil
	case "sell", "short":
		return model.SideShort, nil
	case "":
		return "", fmt.Errorf("缺少方向关键词")
	default:
		return "", fmt.Errorf("无法识别的方向: %s", raw)
	}
}

// NormalizeSymbol 规范化交易对为交易所格式
// 去掉 $ 前缀并转大写，裸币种或以 USD 结尾的补全为 USDT 计价对
func NormalizeSymbol(raw string) string {
	symbol := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(raw, "$", "")))
	if symbol == "" {
		return ""
	}
	switch {
	case strings.HasSuffix(symbol, "USDT"):
		return symbol
	case strings.HasSuffix(symbol, "USD"):
		return symbol + "T"
	default:
		return symbol + "USDT"
	}
}

// parsePrice 解析价格字符串，处理千分位和货币符号
func parsePrice(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.TrimSuffix(cleaned, ".")
	if cleaned == "" {
		return 0, fmt.Errorf("缺少价格")
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, err
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("价格必须大于0")
	}

	return price.InexactFloat64(), nil
}

// parseConfluence 提取信号携带的确认数
// 优先取显式的 Confluence 标注，否则统计 ✅ 标记；都没有时返回0表示未知
func parseConfluence(message string) int {
	if m := confluencePattern.FindStringSubmatch(message); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		return n
	}
	return strings.Count(message, "✅")
}

// validateOrdering 止损止盈必须与方向一致地跨在入场价两侧
// 多头: stop < entry < target；空头: stop > entry > target
func validateOrdering(intent *model.SignalIntent) error {
	if intent.Side == model.SideLong {
		if intent.StopLoss >= intent.EntryPrice {
			return fmt.Errorf("多头止损必须低于入场价")
		}
		if intent.HasTakeProfit() && intent.TakeProfit <= intent.EntryPrice {
			return fmt.Errorf("多头止盈必须高于入场价")
		}
	} else {
		if intent.StopLoss <= intent.EntryPrice {
			return fmt.Errorf("空头止损必须高于入场价")
		}
		if intent.HasTakeProfit() && intent.TakeProfit >= intent.EntryPrice {
			return fmt.Errorf("空头止盈必须低于入场价")
		}
	}
	return nil
}
