package sync //nolint:revive,nolintlint // package name mirrors the domain

// ResumePage is the first page that is not fully persisted, given how many
// records are already stored.
func ResumePage(existingCount int64, pageSize int) int {
	if pageSize <= 0 || existingCount <= 0 {
		return 1
	}
	return int(existingCount/int64(pageSize)) + 1
}

// HasMorePages is true while page is below totalPages and the last fetch
// returned items. A page that comes back empty ends the scan even if the remote
// reports more pages.
func HasMorePages(page int, totalPages int, fetched int) bool {
	return page < totalPages && fetched > 0
}
