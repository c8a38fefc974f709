package enums

// TargetType is what a purchase buys: a single listing or a pooled dataset.
type TargetType string

const (
	TargetTypeListing TargetType = "listing"
	TargetTypeDataset TargetType = "dataset"
)

func (t TargetType) Valid() bool {
	return t == TargetTypeListing || t == TargetTypeDataset
}
