package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// RoutingTable は論理サービス名からベースURLへの対応表。
// 生成後は変更されないため、ロックなしで並行に参照してよい。
type RoutingTable struct {
	routes map[string]string
}

// NewRoutingTable は対応表を検証してRoutingTableを生成する。
// ベースURL末尾のスラッシュは取り除く。
func NewRoutingTable(routes map[string]string) (*RoutingTable, error) {
	table := make(map[string]string, len(routes))
	for name, raw := range routes {
		if name == "" {
			return nil, fmt.Errorf("サービス名が空のルートがあります: %q", raw)
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("サービス %s のURL %q が不正です", name, raw)
		}
		table[name] = strings.TrimRight(raw, "/")
	}
	return &RoutingTable{routes: table}, nil
}

// Resolve は論理サービス名に対応するベースURLを返す。完全一致のみ。
func (t *RoutingTable) Resolve(name string) (string, bool) {
	base, ok := t.routes[name]
	return base, ok
}

// Names は登録されているサービス名を昇順で返す。
func (t *RoutingTable) Names() []string {
	names := make([]string, 0, len(t.routes))
	for name := range t.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
