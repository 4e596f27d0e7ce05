package model

import "strings"

// Setting resolves a dotted path inside a nested settings map.
// Returns (nil, false) when any segment is missing or not a map.
func Setting(settings map[string]any, path string) (any, bool) {
	var cur any = settings
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// NotificationPref returns the user's raw preference value for a
// notification type (settings.notification.<type>), or (nil, false) when
// the user has no explicit preference.
func (u *User) NotificationPref(typ string) (any, bool) {
	return Setting(u.Settings, "notification."+typ)
}

// ChannelEnabled reports whether the user allows the given notification
// type on the named channel key ("web" or "mobile"). An unset preference
// means enabled.
func (u *User) ChannelEnabled(typ, channel string) bool {
	v, ok := Setting(u.Settings, "notification."+typ+"."+channel)
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// BothSessions reports whether the user opted into receiving push alerts
// even while a web session is active.
func (u *User) BothSessions(typ string) bool {
	v, ok := Setting(u.Settings, "notification."+typ+".both_sessions")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// PrefAllows evaluates a generation-time preference value against a rule
// discriminant. Semantics: unset = allowed; bool = itself; string = equal
// to discriminant; list = contains discriminant.
func PrefAllows(pref any, ok bool, discriminant string) bool {
	if !ok || pref == nil {
		return true
	}
	switch v := pref.(type) {
	case bool:
		return v
	case string:
		return v == discriminant
	case []any:
		for _, item := range v {
			if s, isStr := item.(string); isStr && s == discriminant {
				return true
			}
		}
		return false
	case map[string]any:
		// Structured prefs ({enabled: bool, ...}) fall back to enabled flag.
		if b, isBool := v["enabled"].(bool); isBool {
			return b
		}
		return true
	}
	return true
}
