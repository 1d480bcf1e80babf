package models

import (
	"strings"
	"time"
)

// MediaItem is a gallery entry owned by a single user.
type MediaItem struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	IsPublic  bool      `json:"isPublic"`
	Gated     bool      `json:"gated"`
	URI       string    `json:"uri,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AccessStatus is the lifecycle state of a private-gallery access request.
type AccessStatus string

const (
	AccessStatusNone     AccessStatus = "none"
	AccessStatusPending  AccessStatus = "pending"
	AccessStatusApproved AccessStatus = "approved"
	AccessStatusDenied   AccessStatus = "denied"
)

// Valid reports whether s is a status a persisted row may carry.
func (s AccessStatus) Valid() bool {
	switch s {
	case AccessStatusPending, AccessStatusApproved, AccessStatusDenied:
		return true
	}
	return false
}

// MediaScopePrivateGallery identifies an owner's entire private gallery.
const MediaScopePrivateGallery = "private_gallery"

// AccessRequest records a viewer's request to see an owner's private gallery.
type AccessRequest struct {
	ID          string       `json:"id"`
	RequesterID string       `json:"requesterId"`
	OwnerID     string       `json:"ownerId"`
	MediaScope  string       `json:"mediaScope"`
	Status      AccessStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	DecidedAt   *time.Time   `json:"decidedAt,omitempty"`
}

// Network identifies the chain class a wallet belongs to.
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

func (n Network) Valid() bool {
	return n == NetworkTestnet || n == NetworkMainnet
}

// WalletRecord holds a user's single wallet. EncryptedSecret never leaves the server.
type WalletRecord struct {
	UserID          string    `json:"userId"`
	Address         string    `json:"address"`
	EncryptedSecret []byte    `json:"-"`
	Network         Network   `json:"network"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CoupleStatus is the lifecycle state of a couple NFT request.
type CoupleStatus string

const (
	CoupleStatusPending   CoupleStatus = "pending"
	CoupleStatusApproved  CoupleStatus = "approved"
	CoupleStatusMinted    CoupleStatus = "minted"
	CoupleStatusExpired   CoupleStatus = "expired"
	CoupleStatusCancelled CoupleStatus = "cancelled"
)

// Active reports whether the request still accepts consent.
func (s CoupleStatus) Active() bool {
	return s == CoupleStatusPending || s == CoupleStatusApproved
}

// Terminal reports whether no further mutation is permitted.
func (s CoupleStatus) Terminal() bool {
	return s == CoupleStatusMinted || s == CoupleStatusExpired || s == CoupleStatusCancelled
}

func (s CoupleStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

// CoupleNFTRequest tracks the dual-consent workflow for a couple mint.
// TokenID is the first of a reserved contiguous pair; partner B receives TokenID+1.
type CoupleNFTRequest struct {
	ID               string       `json:"id"`
	TokenID          int64        `json:"tokenId"`
	PartnerAAddress  string       `json:"partnerAAddress"`
	PartnerBAddress  string       `json:"partnerBAddress"`
	InitiatorAddress string       `json:"initiatorAddress"`
	MetadataURI      string       `json:"metadataUri"`
	ConsentAAt       *time.Time   `json:"consentAAt,omitempty"`
	ConsentBAt       *time.Time   `json:"consentBAt,omitempty"`
	ConsentASig      []byte       `json:"-"`
	ConsentBSig      []byte       `json:"-"`
	Status           CoupleStatus `json:"status"`
	CreatedAt        time.Time    `json:"createdAt"`
	ExpiresAt        time.Time    `json:"expiresAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// BothConsented reports whether both partners have recorded consent.
func (r CoupleNFTRequest) BothConsented() bool {
	return r.ConsentAAt != nil && r.ConsentBAt != nil
}

// Rarity is the categorical tier of a minted NFT.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// NFTRecord is the output of a mint.
type NFTRecord struct {
	TokenID        int64     `json:"tokenId"`
	OwnerAddress   string    `json:"ownerAddress"`
	MetadataURI    string    `json:"metadataUri"`
	Rarity         Rarity    `json:"rarity"`
	IsCouple       bool      `json:"isCouple"`
	PartnerAddress *string   `json:"partnerAddress,omitempty"`
	RequestID      *string   `json:"requestId,omitempty"`
	MintedAt       time.Time `json:"mintedAt"`
}

// MediaFilter narrows an owner's gallery listing.
type MediaFilter struct {
	PublicOnly bool
	GatedOnly  bool
	Limit      uint64
}

// PartnerSide identifies which consent slot of a couple request a partner owns.
type PartnerSide int

const (
	PartnerNone PartnerSide = iota
	PartnerA
	PartnerB
)

// SideOf returns the slot address occupies in r, comparing hex addresses case-insensitively.
func (r CoupleNFTRequest) SideOf(address string) PartnerSide {
	switch {
	case address == "":
		return PartnerNone
	case strings.EqualFold(address, r.PartnerAAddress):
		return PartnerA
	case strings.EqualFold(address, r.PartnerBAddress):
		return PartnerB
	}
	return PartnerNone
}

// ConsentAt returns the consent timestamp recorded for side.
func (r CoupleNFTRequest) ConsentAt(side PartnerSide) *time.Time {
	switch side {
	case PartnerA:
		return r.ConsentAAt
	case PartnerB:
		return r.ConsentBAt
	}
	return nil
}
