// File: internal/gather/loaderror.go
package gather

import (
	"errors"
	"strconv"
	"strings"

	"github.com/pagelens/pagelens-cli/api/schemas"
)

// chromeErrorScheme marks documents the browser substituted for the real
// page after a fatal network error (an interstitial).
const chromeErrorScheme = "chrome-error://"

// certFailurePrefix identifies certificate problems in the browser's native
// failure descriptions.
const certFailurePrefix = "net::ERR_CERT"

// dnsFailureCodes are the exact failure descriptions treated as DNS
// failures; any "net::ERR_DNS_" prefixed code also qualifies.
var dnsFailureCodes = map[string]struct{}{
	"net::ERR_NAME_NOT_RESOLVED":      {},
	"net::ERR_NAME_RESOLUTION_FAILED": {},
}

// GetPageLoadError decides whether the completed navigation should be
// treated as a failure and which kind. Precedence: offline suppression,
// interstitial, network error, then the navigation error as last resort.
// A nil return means the load is considered successful.
func GetPageLoadError(pc *schemas.PassContext, loadData *schemas.LoadData, navigationError error) *schemas.PageError {
	// An intentionally offline session is expected to fail loads; nothing
	// to report.
	if !pc.Driver.Online() {
		return nil
	}

	if interstitialErr := getInterstitialError(loadData.NetworkRecords); interstitialErr != nil {
		return interstitialErr
	}
	if networkErr := getNetworkError(pc.URL, loadData.NetworkRecords); networkErr != nil {
		return networkErr
	}

	if navigationError != nil {
		var pe *schemas.PageError
		if errors.As(navigationError, &pe) {
			return pe
		}
		return schemas.NewPageError(schemas.ErrPageHung, "The page did not finish loading: %v", navigationError)
	}
	return nil
}

// getInterstitialError detects a browser-internal error page. If any request
// belongs to a chrome-error:// document, the failed sibling that triggered
// it determines the error kind.
func getInterstitialError(records []*schemas.NetworkRecord) *schemas.PageError {
	var interstitial *schemas.NetworkRecord
	for _, r := range records {
		if strings.HasPrefix(r.DocumentURL, chromeErrorScheme) {
			interstitial = r
			break
		}
	}
	if interstitial == nil {
		return nil
	}

	var failed *schemas.NetworkRecord
	for _, r := range records {
		if r.DocumentURL != interstitial.DocumentURL {
			continue
		}
		// Non-network sibling requests and the error document itself can't
		// tell us why the page failed.
		if r.Protocol == "data" || r.Protocol == "blob" || strings.HasPrefix(r.URL, chromeErrorScheme) {
			continue
		}
		if r.Failed {
			failed = r
			break
		}
	}
	// An interstitial without a failed sibling should not occur.
	if failed == nil {
		return nil
	}

	if strings.HasPrefix(failed.LocalizedFailDescription, certFailurePrefix) {
		err := schemas.NewPageError(schemas.ErrInsecureDocumentRequest,
			"The URL you have provided does not have a valid security certificate. %s", failed.LocalizedFailDescription)
		err.ErrorReason = failed.LocalizedFailDescription
		return err
	}
	return schemas.NewPageError(schemas.ErrChromeInterstitial,
		"Chrome prevented the page from loading and displayed an interstitial screen instead.")
}

// getNetworkError inspects the record for the document itself. URLs are
// compared with fragments stripped, since the fragment never reaches the
// network layer.
func getNetworkError(pageURL string, records []*schemas.NetworkRecord) *schemas.PageError {
	main := findRecordForURL(records, pageURL)
	if main == nil {
		return schemas.NewPageError(schemas.ErrNoDocumentRequest,
			"No document request was recorded for the page. Verify the URL is correct and the server is responding to requests.")
	}

	if main.Failed {
		desc := main.LocalizedFailDescription
		if isDNSFailure(desc) {
			err := schemas.NewPageError(schemas.ErrDNSFailure,
				"DNS servers could not resolve the provided domain.")
			err.ErrorReason = desc
			return err
		}
		err := schemas.NewPageError(schemas.ErrFailedDocumentRequest,
			"The page could not be loaded. (Details: %s)", desc)
		err.ErrorReason = desc
		return err
	}

	if main.StatusCode >= 400 {
		status := statusCodeString(main.StatusCode)
		err := schemas.NewPageError(schemas.ErrErroredDocumentRequest,
			"The server responded with a status code of %s for the page.", status)
		err.StatusCode = status
		return err
	}
	return nil
}

func findRecordForURL(records []*schemas.NetworkRecord, pageURL string) *schemas.NetworkRecord {
	want := stripFragment(pageURL)
	for _, r := range records {
		if stripFragment(r.URL) == want {
			return r
		}
	}
	return nil
}

func isDNSFailure(desc string) bool {
	if _, ok := dnsFailureCodes[desc]; ok {
		return true
	}
	return strings.HasPrefix(desc, "net::ERR_DNS_")
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

func statusCodeString(code int64) string {
	return strconv.FormatInt(code, 10)
}
