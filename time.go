package hodl

import "time"

// TimestampSec is a unix timestamp in seconds, the resolution schedules
// operate at.
type TimestampSec = uint32

const OneYearSeconds TimestampSec = 365 * 24 * 60 * 60

func nanoToSec(ts int64) TimestampSec {
	return TimestampSec(ts / int64(time.Second))
}

func currentTimestampSec() TimestampSec {
	return nanoToSec(time.Now().UnixNano())
}
