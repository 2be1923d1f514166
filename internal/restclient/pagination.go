package restclient

import (
	"context"
	"fmt"
)

const (
	firstPageNumberConstant        = 1
	pageFetchErrorTemplateConstant = "unable to fetch page %d: %w"
)

// PageFetcher retrieves one page and reports the next page number, or zero when the listing is exhausted.
type PageFetcher[T any] func(executionContext context.Context, pageNumber int) (items []T, nextPage int, err error)

// CollectPages walks every page returned by fetcher. When a page fails, the
// items collected from earlier pages are returned together with the error.
func CollectPages[T any](executionContext context.Context, fetcher PageFetcher[T]) ([]T, error) {
	collectedItems := make([]T, 0)
	pageNumber := firstPageNumberConstant
	for pageNumber > 0 {
		if contextError := executionContext.Err(); contextError != nil {
			return collectedItems, contextError
		}

		pageItems, nextPage, fetchError := fetcher(executionContext, pageNumber)
		if fetchError != nil {
			return collectedItems, fmt.Errorf(pageFetchErrorTemplateConstant, pageNumber, fetchError)
		}

		collectedItems = append(collectedItems, pageItems...)
		if len(pageItems) == 0 || nextPage <= pageNumber {
			break
		}
		pageNumber = nextPage
	}
	return collectedItems, nil
}
