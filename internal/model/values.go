package model

// VotingSystem は見積もりで使用する値の集合を表す。
type VotingSystem string

const (
	VotingFibonacci VotingSystem = "fibonacci"
	VotingTShirt    VotingSystem = "tshirt"
)

var votingValues = map[VotingSystem][]string{
	VotingFibonacci: {"?", "0", "1", "2", "3", "5", "8", "13", "21", "34", "∞"},
	VotingTShirt:    {"?", "XS", "S", "M", "L", "XL", "XXL"},
}

// Valid は定義済みの値集合かどうかを返す。
func (v VotingSystem) Valid() bool {
	_, ok := votingValues[v]
	return ok
}

// Values はこの値集合で選択可能な値を表示順で返す。
func (v VotingSystem) Values() []string {
	values := votingValues[v]
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// Contains は値が集合に含まれるかを返す。
func (v VotingSystem) Contains(value string) bool {
	for _, candidate := range votingValues[v] {
		if candidate == value {
			return true
		}
	}
	return false
}
