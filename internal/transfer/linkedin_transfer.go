package transfer

type LinkedinUserInfo struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
}

type LinkedinInitializeImage struct {
	Value struct {
		UploadURL string `json:"uploadUrl"`
		Image     string `json:"image"`
	} `json:"value"`
}

type LinkedinUploadInstruction struct {
	UploadURL string `json:"uploadUrl"`
	FirstByte int64  `json:"firstByte"`
	LastByte  int64  `json:"lastByte"`
}

type LinkedinInitializeVideo struct {
	Value struct {
		Video              string                      `json:"video"`
		UploadToken        string                      `json:"uploadToken"`
		UploadInstructions []LinkedinUploadInstruction `json:"uploadInstructions"`
	} `json:"value"`
}

type LinkedinVideoStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type LinkedinToken struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}
