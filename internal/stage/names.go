package stage

// Pipeline stage names, in execution order.
const (
	Analysis      = "analysis"
	Preparation   = "preparation"
	Merging       = "merging"
	Compression   = "compression"
	StorageUpload = "storage_upload"
	Cleanup       = "cleanup"
)

// Order lists every stage in the order a job runs them.
var Order = []string{Analysis, Preparation, Merging, Compression, StorageUpload, Cleanup}

// Index returns the position of name in Order, or -1.
func Index(name string) int {
	for i, n := range Order {
		if n == name {
			return i
		}
	}
	return -1
}

// Fraction converts a stage position and its progress percent into overall
// pipeline completion in [0, 1].
func Fraction(index int, percent float64) float64 {
	if index < 0 {
		return 0
	}
	percent = min(max(percent, 0), 100)
	done := (float64(index) + percent/100) / float64(len(Order))
	return min(done, 1)
}
