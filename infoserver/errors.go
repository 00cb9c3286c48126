package infoserver

import stderrors "errors"

// ErrDuplicateAttachment is returned when a result is attached twice
var ErrDuplicateAttachment = stderrors.New("infoserver: result already attached")
