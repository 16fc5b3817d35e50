package alarms

import "encoding/json"

// EncodeSnapshot serializes an alarm for carrying on a scheduled trigger.
// The receiver uses it when the registry backend is not yet readable.
func EncodeSnapshot(a Alarm) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(value string) (Alarm, error) {
	var a Alarm
	if err := json.Unmarshal([]byte(value), &a); err != nil {
		return Alarm{}, err
	}
	a.Challenge = a.Challenge.Normalize()
	return a, nil
}
