package dispatch

import "strconv"

func formatSignedID(id int32) string {
	return strconv.FormatInt(int64(id), 10)
}
