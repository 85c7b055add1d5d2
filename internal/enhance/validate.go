package enhance

// MinFeedURLLength is the shortest feedurl accepted.
const MinFeedURLLength = 10

// Fixed client-facing messages for rejected requests.
const (
	MessageMissingParameter = "Missing feedurl parameter. Please provide an feedurl as url encoded string."
	MessageInvalidParameter = "Invalid feedurl parameter. Please provide an feedurl as url encoded string with some more characters."
)

// ValidateFeedURL checks the feedurl parameter and returns it unchanged.
// Anything beyond presence and length is left to the feed fetch.
func ValidateFeedURL(feedURL string) (string, error) {
	if feedURL == "" {
		return "", ErrMissingParameter
	}
	if len(feedURL) < MinFeedURLLength {
		return "", ErrInvalidParameter
	}
	return feedURL, nil
}
