package transfer

type FacebookToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type FacebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

type FacebookPages struct {
	Data []FacebookPage `json:"data"`
}

type FacebookID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}

type FacebookVideoStart struct {
	VideoID         string `json:"video_id"`
	UploadSessionID string `json:"upload_session_id"`
	StartOffset     string `json:"start_offset"`
	EndOffset       string `json:"end_offset"`
}

type FacebookVideoTransfer struct {
	StartOffset string `json:"start_offset"`
	EndOffset   string `json:"end_offset"`
}

type FacebookVideoStatus struct {
	ID     string `json:"id"`
	Status struct {
		VideoStatus string `json:"video_status"`
	} `json:"status"`
}

type FacebookSuccess struct {
	Success bool `json:"success"`
}
