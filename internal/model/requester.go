package model

// Requester is the identity attached to an incoming file request.
// Session issuance lives outside this service; we only verify bearer
// tokens and carry the resulting claims here.
type Requester struct {
	UserID string
	Admin  bool
}

// Anonymous is the zero requester used when no (valid) token is present.
var Anonymous = Requester{}

func (r Requester) IsAnonymous() bool {
	return r.UserID == ""
}

func (r Requester) IsAdmin() bool {
	return r.Admin
}
