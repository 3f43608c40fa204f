// Package prefs resolves effective delivery settings for a recipient and
// publication. Resolution is a three-level lookup with short-circuit: an
// enabled preference override wins, then the publication default, then a
// hard-coded system default. All functions are pure so callers always see
// the snapshot they pass in.
package prefs

import (
	"github.com/presslane/edition-courier/internal/courier"
)

// System defaults, used when neither the preference nor the publication
// supplies a value.
const (
	DefaultFolder = "Unsorted"
)

// FolderPath returns the destination folder for the recipient's deliveries
// of this publication.
func FolderPath(rec courier.Recipient, pub courier.Publication) string {
	if pref, ok := rec.PreferenceFor(pub.ID); ok && pref.Enabled && pref.FolderPath != nil {
		return *pref.FolderPath
	}
	if pub.FolderPath != "" {
		return pub.FolderPath
	}
	return DefaultFolder
}

// YearFolders reports whether the recipient's deliveries of this publication
// are grouped into per-year subfolders. A nil preference override inherits
// the publication default.
func YearFolders(rec courier.Recipient, pub courier.Publication) bool {
	if pref, ok := rec.PreferenceFor(pub.ID); ok && pref.Enabled && pref.YearFolders != nil {
		return *pref.YearFolders
	}
	return pub.YearFolders
}

// RecipientsFor filters recipients down to those that should receive this
// publication on the given channel. The publication's channel flag is a hard
// ceiling; below it, only active recipients with an enabled preference that
// opts into the channel qualify. Recipients without a preference entry are
// excluded (opt-in, not opt-out).
func RecipientsFor(pub courier.Publication, ch courier.Channel, recipients []courier.Recipient) []courier.Recipient {
	if !pub.ChannelEnabled(ch) {
		return nil
	}
	var out []courier.Recipient
	for _, rec := range recipients {
		if !rec.Active {
			continue
		}
		pref, ok := rec.PreferenceFor(pub.ID)
		if !ok || !pref.Enabled {
			continue
		}
		if !channelOptIn(pref, ch) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func channelOptIn(pref courier.Preference, ch courier.Channel) bool {
	switch ch {
	case courier.ChannelMail:
		return pref.Mail
	case courier.ChannelDrive:
		return pref.Drive
	default:
		return false
	}
}
