package storekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootPath(t *testing.T) {
	assert.Equal(t, "/_clusterlib/_1.0/_root", RootPath)
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("web-tier"))
	assert.False(t, IsValidName(""))
	assert.False(t, IsValidName("a/b"))
	assert.False(t, IsValidName("_reserved"))
}

func TestJoin_CollapsesDuplicateSeparators(t *testing.T) {
	assert.Equal(t, "/a/b/c", Join("/a/", "/b/", "/c"))
	assert.Equal(t, RootPath, Join(Separator, TokenClusterlib, TokenVersion, TokenRoot))
}

func TestChildKey(t *testing.T) {
	appKey := ChildKey(RootPath, KindApplication, "billing")
	assert.Equal(t, RootPath+"/_applications/billing", appKey)

	groupKey := ChildKey(appKey, KindGroup, "web-tier")
	assert.Equal(t, appKey+"/_groups/web-tier", groupKey)
}

func TestParent(t *testing.T) {
	appKey := ChildKey(RootPath, KindApplication, "billing")
	assert.Equal(t, RootPath+"/_applications", Parent(appKey))
	assert.Equal(t, "/_clusterlib/_1.0", Parent(RootPath))
}

func TestIsLegalKey(t *testing.T) {
	appKey := ChildKey(RootPath, KindApplication, "billing")
	assert.True(t, IsLegalKey(KindApplication, appKey))
	assert.False(t, IsLegalKey(KindGroup, appKey))

	bad := RootPath + "/_applications/_reserved"
	assert.False(t, IsLegalKey(KindApplication, bad))
}

func TestLockKey(t *testing.T) {
	appKey := ChildKey(RootPath, KindApplication, "billing")
	lockKey := LockKey(appKey, "deploy")
	assert.Equal(t, appKey+"/_locks/deploy", lockKey)
}

func TestTrimToNotifyable(t *testing.T) {
	appKey := ChildKey(RootPath, KindApplication, "billing")
	bidKey := LockKey(appKey, "deploy") + "/host1:123-0000000001=X"
	assert.Equal(t, appKey, TrimToNotifyable(bidKey))
	assert.Equal(t, appKey, TrimToNotifyable(LockKey(appKey, "deploy")))
	assert.Equal(t, appKey, TrimToNotifyable(appKey))
}
