package storage

// Chunking policy for multipart transfers.
const (
	// MinPartSize is the smallest part most multipart protocols accept
	// for every part but the last.
	MinPartSize int64 = 5 * 1024 * 1024

	// TargetPartSize bounds the part count while keeping retries cheap.
	TargetPartSize int64 = 20 * 1024 * 1024

	// MultipartThreshold is the largest size uploaded in a single PUT.
	// Objects above it use a multipart transfer.
	MultipartThreshold int64 = 100 * 1024 * 1024
)

// PlanPartSize returns the part size and part count for an object of
// totalBytes. It always returns at least one part.
func PlanPartSize(totalBytes int64) (partSize int64, totalParts int) {
	partSize = max(MinPartSize, TargetPartSize)
	if totalBytes <= 0 {
		return partSize, 1
	}
	totalParts = int((totalBytes + partSize - 1) / partSize)
	return partSize, max(1, totalParts)
}
