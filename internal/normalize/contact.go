package normalize

import (
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// Contact normalizes a raw contact. An empty payload yields a record with
// unknown gender and type.
func Contact(raw webschema.RawContact) *types.Contact {
	if raw.IsZero() {
		return &types.Contact{Gender: types.GenderUnknown, Type: types.ContactTypeUnknown}
	}
	c := &types.Contact{
		ID:        raw.UserName,
		Weixin:    raw.Alias,
		Name:      StripDecorations(raw.NickName),
		Alias:     StripDecorations(raw.RemarkName),
		Gender:    gender(raw.Sex),
		Province:  raw.Province,
		City:      raw.City,
		Signature: PlainText(raw.Signature),
		Address:   raw.Alias,
		Star:      raw.StarFriend != 0,
		Avatar:    raw.HeadImgURL,
		Type:      types.ContactTypePersonal,
	}
	if raw.Stranger != nil {
		friend := !*raw.Stranger
		c.Friend = &friend
	}
	if raw.UserName != "" && !types.IsRoomID(raw.UserName) && raw.VerifyFlag&webschema.VerifyFlagOfficial != 0 {
		c.Type = types.ContactTypeOfficial
	}
	return c
}

func gender(sex int) types.Gender {
	switch sex {
	case 1:
		return types.GenderMale
	case 2:
		return types.GenderFemale
	default:
		return types.GenderUnknown
	}
}
