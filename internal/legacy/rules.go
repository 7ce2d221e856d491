package legacy

import (
	"regexp"
	"slices"
	"strings"
)

var interceptPattern = regexp.MustCompile(`^(?:https?://[^/]+)?(/product/iwg/|/iwg/)`)

// legacyOrigin is the absolute origin old games hard-code into their requests.
const legacyOrigin = "https://mylotto24.frontend.zig.services"

// ieGames share a pool with the .com games and still request the name without "ie".
var ieGames = []string{
	"cashbusterie", "brilliantie", "bingoie", "crosswordie", "bonusbingoie",
	"instantcashie", "instantcashplatinumie", "latwayie", "nesteggie", "cashcowie",
}

// Rules decides which legacy URLs are redirected to the host and how they are rewritten.
type Rules struct {
	CanonicalGameName string
	// PageURL is the address of the page running the legacy game.
	PageURL string
}

// Rewrite returns the URL to use and whether the request must be intercepted.
func (r Rules) Rewrite(url string) (string, bool) {
	if strings.Contains(r.PageURL, "mojimoney") && strings.HasPrefix(url, "../") {
		url = "./" + strings.TrimPrefix(url, "../")
	}
	if strings.HasSuffix(url, "de.json") {
		url = strings.TrimSuffix(url, "de.json") + "en.json"
	}
	if !interceptPattern.MatchString(url) {
		return url, false
	}

	name := r.CanonicalGameName
	if uk := "/iwg/" + name + "uk/"; strings.Contains(url, uk) {
		url = strings.Replace(url, uk, "/iwg/"+name+"/", 1)
	}
	if slices.Contains(ieGames, name) {
		if ie := "/iwg/" + strings.TrimSuffix(name, "ie") + "/"; strings.Contains(url, ie) {
			url = strings.Replace(url, ie, "/iwg/"+name+"/", 1)
		}
	}
	return strings.Replace(url, legacyOrigin, "", 1), true
}
