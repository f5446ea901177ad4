package backing

import "github.com/lanikai/pwcapture/internal/logging"

var log = logging.DefaultLogger.WithTag("backing")
