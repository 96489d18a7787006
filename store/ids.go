package store

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"

	"github.com/google/uuid"
)

// visitorID derives a stable positive id from (siteID, ip). Two racing
// inserts for the same visitor produce identical rows.
func visitorID(siteID int64, ip string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(siteID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(ip))
	return int64(h.Sum64() & (1<<63 - 1))
}

// impressionID takes 63 random bits from a v4 UUID.
func impressionID() int64 {
	u := uuid.New()
	id := int64(binary.BigEndian.Uint64(u[8:]) & (1<<63 - 1))
	if id == 0 {
		return 1
	}
	return id
}
